package master

import (
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// SetQuota installs or replaces a role's guaranteed resource floor and relays it to the allocator.
func (m *Master) SetQuota(conn authz.Connection, role string, guarantee types.Resources) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionSetQuota, Object: role}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			m.ensureRoleLocked(role)
			m.quotas[role] = types.Quota{Role: role, Guarantee: guarantee}
			m.allocator.SetQuota(role, guarantee)
			resolve(nil, nil)
		})
	}()

	return out
}

// RemoveQuota deletes a role's guaranteed resource floor and relays the
// removal to the allocator. Removing a quota a role never had is a no-op.
func (m *Master) RemoveQuota(conn authz.Connection, role string) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionRemoveQuota, Object: role}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			delete(m.quotas, role)
			m.allocator.RemoveQuota(role)
			resolve(nil, nil)
		})
	}()

	return out
}

// GetQuota answers a role's current quota.
func (m *Master) GetQuota(conn authz.Connection, role string) *future.Future[types.Quota] {
	out, resolve := future.New[types.Quota]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(types.Quota{}, err)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionGetQuota, Object: role}).Await()
		if err != nil || !allowed {
			resolve(types.Quota{}, firstErr(err, ErrAuthorizationDenied))
			return
		}

		m.submit(func(m *Master) {
			resolve(m.quotas[role], nil)
		})
	}()

	return out
}

// UpdateWeights replaces the role weights used for fair-share allocation.
func (m *Master) UpdateWeights(conn authz.Connection, weights map[string]float64) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionUpdateWeights, Object: weights}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			for role, w := range weights {
				m.ensureRoleLocked(role)
				m.weights[role] = w
			}
			m.allocator.UpdateWeights(weights)
			resolve(nil, nil)
		})
	}()

	return out
}

// RoleSnapshot is a read-only view of a role for listing/introspection.
type RoleSnapshot struct {
	Name    string
	Weight  float64
	Quota   types.Quota
	Members []types.FrameworkID
}

// ListRoles answers the current set of known roles.
func (m *Master) ListRoles() []RoleSnapshot {
	result, resolve := future.New[[]RoleSnapshot]()
	m.submit(func(m *Master) {
		out := make([]RoleSnapshot, 0, len(m.roles))
		for name, role := range m.roles {
			members := make([]types.FrameworkID, 0, len(role.Frameworks))
			for fwID := range role.Frameworks {
				members = append(members, fwID)
			}
			out = append(out, RoleSnapshot{Name: name, Weight: m.weights[name], Quota: m.quotas[name], Members: members})
		}
		resolve(out, nil)
	})
	v, _ := result.Await()
	return v
}
