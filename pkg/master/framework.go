package master

import (
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// SubscribeResult is returned to a framework on successful (re)subscription.
type SubscribeResult struct {
	FrameworkID types.FrameworkID
}

// Subscribe handles a framework's Subscribe call: authenticate, authorize register_framework,
// then install or rebind the framework and hand it to the allocator.
func (m *Master) Subscribe(conn authz.Connection, info types.FrameworkInfo, transport types.Transport) *future.Future[SubscribeResult] {
	out, resolve := future.New[SubscribeResult]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(SubscribeResult{}, err)
			return
		}

		allowed, err := m.authz.Authorize(authz.Request{
			Principal: principalOf(principal),
			Action:    authz.ActionRegisterFramework,
			Object:    info,
		}).Await()
		if err != nil || !allowed {
			resolve(SubscribeResult{}, firstErr(err, ErrAuthorizationDenied))
			return
		}

		m.submit(func(m *Master) {
			id := info.ID
			fw, existing := m.frameworks[id]
			if id == "" || !existing {
				id = newFrameworkID(m.selfID)
				info.ID = id
				fw = &types.Framework{
					Info:             info,
					Tasks:            make(map[types.TaskID]*types.Task),
					PendingTasks:     make(map[types.TaskID]*types.Task),
					ExecutorsByAgent: make(map[types.AgentID]map[types.ExecutorID]*types.Executor),
					Offers:           make(map[types.OfferID]struct{}),
					InverseOffers:    make(map[types.OfferID]struct{}),
					UsedResources:    make(map[types.AgentID]types.Resources),
					OfferedResources: make(map[types.AgentID]types.Resources),
					RegisteredAt:     time.Now(),
				}
				m.frameworks[id] = fw
				for _, role := range info.Roles {
					m.ensureRoleLocked(role)
					m.roles[role].Frameworks[id] = struct{}{}
				}
				m.allocator.AddFramework(id, info, nil, true)
				m.publish(events.EventFrameworkAdded, "framework "+string(id)+" registered", map[string]string{"framework_id": string(id)})
			} else {
				fw.Info = info
				fw.ReregisteredAt = time.Now()
				delete(m.frameworkDisconnectedAt, id)
				m.allocator.ActivateFramework(id)
			}

			// Replacing the transport tears down any heartbeater the old one
			// owned; HTTP↔PID upgrades and downgrades both pass through here.
			if fw.Transport.Heartbeater != nil {
				fw.Transport.Heartbeater()
			}
			fw.Transport = transport
			fw.Connected = true
			fw.Active = true
			fw.State = types.FrameworkRegistered

			resolve(SubscribeResult{FrameworkID: id}, nil)
		})
	}()

	return out
}

func (m *Master) ensureRoleLocked(name string) {
	if _, ok := m.roles[name]; !ok {
		m.roles[name] = &types.Role{Name: name, Frameworks: make(map[types.FrameworkID]struct{})}
		m.allocator.AddRole(name)
	}
}

// FrameworkDisconnected marks a framework's transport closed and arms the
// failover window.
func (m *Master) FrameworkDisconnected(id types.FrameworkID) {
	m.submit(func(m *Master) {
		fw, ok := m.frameworks[id]
		if !ok {
			return
		}
		fw.Connected = false
		fw.Active = false
		fw.State = types.FrameworkDisconnected
		m.frameworkDisconnectedAt[id] = time.Now()
		m.allocator.DeactivateFramework(id)
		m.publish(events.EventFrameworkDisconnected, "framework "+string(id)+" disconnected", map[string]string{"framework_id": string(id)})
	})
}

// Teardown handles an explicit Teardown call or a failover-timeout firing
//: kill every task across every agent, rescind every
// outstanding offer, recover all resources, and move the framework into
// the bounded completed ring.
func (m *Master) Teardown(conn authz.Connection, id types.FrameworkID) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionTeardown, Object: id}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			m.teardownLocked(id)
			resolve(nil, nil)
		})
	}()

	return out
}

// teardownLocked performs the actual teardown; must run on the actor
// goroutine. Shared by the explicit Teardown call and housekeeping's
// failover-timeout sweep.
func (m *Master) teardownLocked(id types.FrameworkID) {
	fw, ok := m.frameworks[id]
	if !ok {
		return
	}

	for agentID, byFw := range m.agentsByFrameworkLocked(id) {
		agent := m.agents[agentID]
		sink := m.agentSinks[agentID]
		for taskID, task := range byFw {
			if !task.State.Terminal() {
				if sink != nil {
					_ = sink.Send(KillTaskMessage{FrameworkID: id, TaskID: taskID})
				}
				task.State = types.TaskKilled
				task.UpdatedAt = time.Now()
			}
			delete(agent.Tasks[id], taskID)
		}
		delete(agent.Tasks, id)
		used := agent.UsedResources[id]
		agent.UsedResources[id] = types.Resources{}
		delete(agent.UsedResources, id)
		m.allocator.RecoverResources(id, agentID, used, types.Filters{})
	}
	for _, agent := range m.agents {
		delete(agent.PendingTasks, id)
		delete(agent.KilledTasks, id)
	}

	for offerID := range fw.Offers {
		m.removeOfferLocked(offerID, types.Filters{})
	}

	m.allocator.RemoveFramework(id)
	delete(m.frameworks, id)
	delete(m.frameworkDisconnectedAt, id)
	for _, role := range fw.Info.Roles {
		if r, ok := m.roles[role]; ok {
			delete(r.Frameworks, id)
		}
	}

	fw.State = types.FrameworkCompleted
	m.completed = append(m.completed, fw)
	if max := m.cfg.MaxCompletedFrameworks; max > 0 && len(m.completed) > max {
		m.completed = m.completed[len(m.completed)-max:]
	}

	m.publish(events.EventFrameworkRemoved, "framework "+string(id)+" torn down", map[string]string{"framework_id": string(id)})
}

// agentsByFrameworkLocked returns, for each agent that has tasks belonging
// to framework id, that agent's task map. Must run on the actor goroutine.
func (m *Master) agentsByFrameworkLocked(id types.FrameworkID) map[types.AgentID]map[types.TaskID]*types.Task {
	out := make(map[types.AgentID]map[types.TaskID]*types.Task)
	for agentID, agent := range m.agents {
		if byFw, ok := agent.Tasks[id]; ok && len(byFw) > 0 {
			out[agentID] = byFw
		}
	}
	return out
}

func principalOf(p *authz.Principal) authz.Principal {
	if p == nil {
		return ""
	}
	return *p
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
