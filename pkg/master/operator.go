package master

import (
	"errors"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// ErrInsufficientAgentResources is returned when an operator-initiated
// reserve or volume creation asks for more than the agent currently has
// free (total minus used minus outstanding offers).
var ErrInsufficientAgentResources = errors.New("master: agent has insufficient free resources")

// ErrNoSuchReservation is returned when an unreserve or volume destruction
// names resources the agent's checkpointed set does not contain.
var ErrNoSuchReservation = errors.New("master: no matching reservation or volume on agent")

// OperatorReserve dynamically reserves resources on an agent on behalf of
// an operator, outside any offer cycle. The reservation lands in the
// agent's checkpointed resources and survives agent restart.
func (m *Master) OperatorReserve(conn authz.Connection, agentID types.AgentID, resources types.Resources) *future.Future[error] {
	return m.operatorCheckpoint(conn, agentID, authz.ActionReserve, func(agent *types.Agent) error {
		if !m.agentFreeLocked(agent).Contains(resources) {
			return ErrInsufficientAgentResources
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Add(resources)
		return nil
	})
}

// OperatorUnreserve releases a dynamic reservation made earlier via
// OperatorReserve or an accepted RESERVE operation.
func (m *Master) OperatorUnreserve(conn authz.Connection, agentID types.AgentID, resources types.Resources) *future.Future[error] {
	return m.operatorCheckpoint(conn, agentID, authz.ActionUnreserve, func(agent *types.Agent) error {
		if !agent.Info.CheckpointedResources.Contains(resources) {
			return ErrNoSuchReservation
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Subtract(resources)
		return nil
	})
}

// OperatorCreateVolume creates a persistent volume on an agent out of its
// free resources.
func (m *Master) OperatorCreateVolume(conn authz.Connection, agentID types.AgentID, volumeID string, resources types.Resources) *future.Future[error] {
	return m.operatorCheckpoint(conn, agentID, authz.ActionCreateVolume, func(agent *types.Agent) error {
		if !m.agentFreeLocked(agent).Contains(resources) {
			return ErrInsufficientAgentResources
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Add(resources)
		return nil
	})
}

// OperatorDestroyVolume destroys a persistent volume, returning its
// resources to the agent's free pool.
func (m *Master) OperatorDestroyVolume(conn authz.Connection, agentID types.AgentID, volumeID string, resources types.Resources) *future.Future[error] {
	return m.operatorCheckpoint(conn, agentID, authz.ActionDestroyVolume, func(agent *types.Agent) error {
		if !agent.Info.CheckpointedResources.Contains(resources) {
			return ErrNoSuchReservation
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Subtract(resources)
		return nil
	})
}

// operatorCheckpoint is the shared authenticate/authorize/apply/checkpoint
// path behind every operator-initiated resource operation. apply runs on the
// actor goroutine; on success the agent's new checkpointed snapshot is sent
// down its sink and the allocator is told its total changed.
func (m *Master) operatorCheckpoint(conn authz.Connection, agentID types.AgentID, action authz.Action, apply func(agent *types.Agent) error) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: action, Object: agentID}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			agent, ok := m.agents[agentID]
			if !ok {
				resolve(ErrUnknownAgent, nil)
				return
			}
			if err := apply(agent); err != nil {
				resolve(err, nil)
				return
			}
			m.sendCheckpointLocked(agent)
			m.allocator.UpdateAgent(agentID, agent.TotalResources)
			resolve(nil, nil)
		})
	}()

	return out
}

// agentFreeLocked computes what an agent has neither in use nor promised
// under an outstanding offer. Must run on the actor goroutine.
func (m *Master) agentFreeLocked(agent *types.Agent) types.Resources {
	return agent.TotalResources.Subtract(agent.UsedTotal()).Subtract(agent.OfferedResources)
}

// Flags answers the master's effective configuration, for the operator
// flags endpoint.
func (m *Master) Flags() Config {
	return m.cfg
}

// StateSummary is the operator state endpoint's top-level snapshot.
type StateSummary struct {
	Agents              []AgentSnapshot
	Frameworks          []FrameworkSnapshot
	Roles               []RoleSnapshot
	OffersOutstanding   int
	CompletedFrameworks int
}

// State answers a consistent point-in-time summary of everything the
// master tracks, assembled in a single actor turn.
func (m *Master) State() StateSummary {
	result, resolve := future.New[StateSummary]()
	m.submit(func(m *Master) {
		summary := StateSummary{
			OffersOutstanding:   len(m.offers),
			CompletedFrameworks: len(m.completed),
		}
		for _, a := range m.agents {
			summary.Agents = append(summary.Agents, AgentSnapshot{
				Info:      a.Info,
				State:     a.State,
				Connected: a.Connected,
				Active:    a.Active,
				Used:      a.UsedTotal(),
				Offered:   a.OfferedResources,
			})
		}
		for _, fw := range m.frameworks {
			summary.Frameworks = append(summary.Frameworks, FrameworkSnapshot{
				Info:      fw.Info,
				State:     fw.State,
				Connected: fw.Connected,
				Active:    fw.Active,
				TaskCount: len(fw.Tasks),
				Used:      fw.TotalUsed(),
			})
		}
		for name, role := range m.roles {
			members := make([]types.FrameworkID, 0, len(role.Frameworks))
			for fwID := range role.Frameworks {
				members = append(members, fwID)
			}
			summary.Roles = append(summary.Roles, RoleSnapshot{Name: name, Weight: m.weights[name], Quota: m.quotas[name], Members: members})
		}
		resolve(summary, nil)
	})
	v, _ := result.Await()
	return v
}
