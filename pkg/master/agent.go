package master

import (
	"errors"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator"
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/cuemby/clustermaster/pkg/types"
)

// ErrUnknownAgent is returned when a reregistration or operator action
// names an agent id the master has no record of.
var ErrUnknownAgent = errors.New("master: unknown agent")

// ErrAuthenticationFailed is returned when authentication is required and
// the connection's credentials did not resolve to a principal.
var ErrAuthenticationFailed = errors.New("master: authentication failed")

// RegisterResult is returned to a freshly registered agent.
type RegisterResult struct {
	AgentID types.AgentID
}

// RegisterAgent handles an agent's first registration. It
// authenticates, assigns a fresh AgentID, and commits an Admit to the
// registry before installing the agent in memory. sink is the agent's
// message-passing handle (RunTask/KillTask/CheckpointResources), the
// agent-side counterpart of a Framework's Transport.Writer.
func (m *Master) RegisterAgent(conn authz.Connection, info types.AgentInfo, sink types.MessageSink) *future.Future[RegisterResult] {
	out, resolve := future.New[RegisterResult]()

	go func() {
		if _, err := m.authenticateOrDeny(conn); err != nil {
			resolve(RegisterResult{}, err)
			return
		}

		id := newAgentID(m.selfID)
		info.ID = id

		changed, err := m.registry.Apply(registry.Admit{Info: info}).Await()
		if err != nil {
			resolve(RegisterResult{}, err)
			return
		}
		if !changed {
			resolve(RegisterResult{}, registry.ErrAlreadyAdmitted)
			return
		}

		m.submit(func(m *Master) {
			agent := newRecoveredAgent(info)
			agent.Connected = true
			agent.Active = true
			agent.State = types.AgentRegistered
			agent.RegisteredAt = time.Now()
			m.agents[id] = agent
			if sink != nil {
				m.agentSinks[id] = sink
			}

			m.allocator.AddAgent(id, info, allocator.AgentCapabilities{}, nil, info.Resources, nil)
			m.publish(events.EventAgentAdded, "agent "+string(id)+" registered", map[string]string{"agent_id": string(id)})
			resolve(RegisterResult{AgentID: id}, nil)
		})
	}()

	return out
}

// ReregisterAgent handles a reconnect from an agent that already holds an
// AgentID — either a plain transport bounce (agent still Disconnected in
// memory, never reached the registry's unreachable list) or a recovery from
// MarkUnreachable. tasks is the agent's own snapshot of what is running
// there; it is authoritative for the terminal/non-terminal distinction of
// every task it names.
func (m *Master) ReregisterAgent(conn authz.Connection, info types.AgentInfo, tasks []types.Task, sink types.MessageSink) *future.Future[RegisterResult] {
	out, resolve := future.New[RegisterResult]()

	go func() {
		if _, err := m.authenticateOrDeny(conn); err != nil {
			resolve(RegisterResult{}, err)
			return
		}

		if m.removed != nil && m.removed.Contains(info.ID) {
			resolve(RegisterResult{}, ErrAgentRemoved)
			return
		}

		known, unreachable := m.syncAgentLookup(info.ID)
		if !known && !unreachable && m.cfg.RegistryStrict {
			resolve(RegisterResult{}, ErrUnknownAgent)
			return
		}

		if unreachable || !known {
			// MarkReachable covers both recovery from the unreachable list
			// and the non-strict unknown-id case: the registry may have
			// garbage-collected the agent's metadata, and the operation
			// re-admits it either way.
			changed, err := m.registry.Apply(registry.MarkReachable{Info: info}).Await()
			if err != nil {
				resolve(RegisterResult{}, err)
				return
			}
			_ = changed
		}

		m.submit(func(m *Master) {
			agent, ok := m.agents[info.ID]
			wasUnreachable := ok && agent.State == types.AgentUnreachable
			if !ok {
				agent = newRecoveredAgent(info)
				m.agents[info.ID] = agent
				m.allocator.AddAgent(info.ID, info, allocator.AgentCapabilities{}, nil, info.Resources, nil)
			} else if wasUnreachable {
				// The unreachable transition removed the agent from the
				// allocator; coming back is an add, not an activate.
				m.allocator.AddAgent(info.ID, info, allocator.AgentCapabilities{}, nil, info.Resources, agent.UsedResources)
			}
			agent.Info = info
			agent.Connected = true
			agent.Active = true
			agent.State = types.AgentRegistered
			agent.ReregisteredAt = time.Now()
			delete(m.agentDisconnectedAt, info.ID)
			if sink != nil {
				m.agentSinks[info.ID] = sink
			}

			m.reconcileAgentTasksLocked(agent, tasks)

			m.publish(events.EventAgentAdded, "agent "+string(info.ID)+" reregistered", map[string]string{"agent_id": string(info.ID)})
			resolve(RegisterResult{AgentID: info.ID}, nil)
		})
	}()

	return out
}

// AgentDisconnected marks an agent's transport closed: it stays
// in the registry's admitted list, but stops receiving offers until it
// reregisters or the reregister timeout promotes it to unreachable.
func (m *Master) AgentDisconnected(id types.AgentID) {
	m.submit(func(m *Master) {
		agent, ok := m.agents[id]
		if !ok {
			return
		}
		agent.Connected = false
		agent.Active = false
		agent.State = types.AgentDisconnected
		m.agentDisconnectedAt[id] = time.Now()
		delete(m.agentSinks, id)
		m.allocator.DeactivateAgent(id)
		m.rescindAgentOffersLocked(id)
		m.publish(events.EventAgentRemoved, "agent "+string(id)+" disconnected", map[string]string{"agent_id": string(id)})
	})
}

// RemoveAgent handles an operator-requested removal:
// submits Remove to the registry, then on commit tears the agent out of
// memory and inserts its id into the removed LRU cache so a stale
// re-registration is explicitly refused.
func (m *Master) RemoveAgent(conn authz.Connection, id types.AgentID) *future.Future[error] {
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

		info, ok := m.syncAgentInfo(id)
		if !ok {
			resolve(ErrUnknownAgent, nil)
			return
		}

		changed, err := m.registry.Apply(registry.Remove{Info: info}).Await()
		if err != nil {
			resolve(err, nil)
			return
		}
		_ = changed

		m.submit(func(m *Master) {
			agent, ok := m.agents[id]
			if ok {
				for fwID, byTask := range agent.Tasks {
					for _, task := range byTask {
						if !task.State.Terminal() {
							m.transitionTaskLocked(fwID, task, types.TaskLost)
						}
					}
				}
				m.rescindAgentOffersLocked(id)
				m.allocator.RemoveAgent(id)
			}
			delete(m.agents, id)
			delete(m.agentSinks, id)
			delete(m.agentDisconnectedAt, id)
			if m.removed != nil {
				m.removed.Add(id, struct{}{})
			}
			m.publish(events.EventAgentRemoved, "agent "+string(id)+" removed", map[string]string{"agent_id": string(id)})
			resolve(nil, nil)
		})
	}()

	return out
}

// syncAgentInfo answers an agent's current AgentInfo via the actor.
func (m *Master) syncAgentInfo(id types.AgentID) (types.AgentInfo, bool) {
	type lookup struct {
		info types.AgentInfo
		ok   bool
	}
	result, resolve := future.New[lookup]()
	m.submit(func(m *Master) {
		agent, ok := m.agents[id]
		if !ok {
			resolve(lookup{}, nil)
			return
		}
		resolve(lookup{info: agent.Info, ok: true}, nil)
	})
	v, _ := result.Await()
	return v.info, v.ok
}

// authenticateOrDeny runs the configured Authenticator and enforces
// AuthenticationRequired.
func (m *Master) authenticateOrDeny(conn authz.Connection) (*authz.Principal, error) {
	principal, err := m.authn.Authenticate(conn).Await()
	if err != nil {
		return nil, err
	}
	if principal == nil && m.cfg.AuthenticationRequired {
		return nil, ErrAuthenticationFailed
	}
	return principal, nil
}

// syncAgentLookup reports whether id is currently known in memory and
// whether it is specifically in the Unreachable state, answered via the
// actor like any other cross-goroutine read.
func (m *Master) syncAgentLookup(id types.AgentID) (known, unreachable bool) {
	type lookup struct{ known, unreachable bool }
	result, resolve := future.New[lookup]()
	m.submit(func(m *Master) {
		agent, ok := m.agents[id]
		if !ok {
			resolve(lookup{}, nil)
			return
		}
		resolve(lookup{known: true, unreachable: agent.State == types.AgentUnreachable}, nil)
	})
	v, _ := result.Await()
	return v.known, v.unreachable
}

// reconcileAgentTasksLocked merges the task snapshot a re-registering agent
// reports with what the master believed was running there. The agent is
// authoritative for every task it reports; tasks it reports that the master
// never saw are adopted (or killed outright if their framework is gone), and
// tasks the master knows about that the agent no longer reports get a kill
// sent and are transitioned to lost so the framework converges. Must be
// called from the actor goroutine.
func (m *Master) reconcileAgentTasksLocked(agent *types.Agent, reported []types.Task) {
	sink := m.agentSinks[agent.Info.ID]

	// Re-send kills the agent may have missed while disconnected, before
	// the sweep below records new ones.
	if sink != nil {
		for fwID, ids := range agent.KilledTasks {
			for taskID := range ids {
				_ = sink.Send(KillTaskMessage{FrameworkID: fwID, TaskID: taskID})
			}
		}
	}

	reportedByID := make(map[types.TaskID]types.TaskState, len(reported))
	for _, rt := range reported {
		reportedByID[rt.ID] = rt.State
	}

	for _, rt := range reported {
		fwID := rt.FrameworkID
		if known, ok := agent.Tasks[fwID][rt.ID]; ok {
			if known.State != rt.State {
				m.transitionTaskLocked(fwID, known, rt.State)
			}
			continue
		}
		if rt.State.Terminal() {
			continue
		}
		fw, fwKnown := m.frameworks[fwID]
		if !fwKnown {
			// Orphan: its framework is gone. Kill it on the agent.
			if sink != nil {
				_ = sink.Send(KillTaskMessage{FrameworkID: fwID, TaskID: rt.ID})
			}
			continue
		}
		task := rt
		task.AgentID = agent.Info.ID
		if agent.Tasks[fwID] == nil {
			agent.Tasks[fwID] = make(map[types.TaskID]*types.Task)
		}
		agent.Tasks[fwID][rt.ID] = &task
		agent.UsedResources[fwID] = agent.UsedResources[fwID].Add(task.Resources)
		fw.Tasks[rt.ID] = &task
		fw.UsedResources[agent.Info.ID] = fw.UsedResources[agent.Info.ID].Add(task.Resources)
	}

	for fwID, byTask := range agent.Tasks {
		for taskID, task := range byTask {
			if task.State.Terminal() {
				continue
			}
			if _, stillRunning := reportedByID[taskID]; stillRunning {
				continue
			}
			if _, fwKnown := m.frameworks[fwID]; fwKnown && sink != nil {
				if agent.KilledTasks[fwID] == nil {
					agent.KilledTasks[fwID] = make(map[types.TaskID]struct{})
				}
				agent.KilledTasks[fwID][taskID] = struct{}{}
				_ = sink.Send(KillTaskMessage{FrameworkID: fwID, TaskID: taskID})
			}
			m.transitionTaskLocked(fwID, task, types.TaskLost)
		}
	}
}

// promoteUnreachableLocked moves an agent from Disconnected to Unreachable
// once agent_reregister_timeout has elapsed. Must be
// called from the actor goroutine; the registry commit itself still
// happens off-actor via the returned future, and the state transition is
// finalized by a continuation.
func (m *Master) promoteUnreachableLocked(id types.AgentID) {
	agent, ok := m.agents[id]
	if !ok || agent.Connected {
		return
	}

	info := agent.Info
	go func() {
		changed, err := m.registry.Apply(registry.MarkUnreachable{Info: info, At: time.Now()}).Await()
		if err != nil || !changed {
			return
		}
		m.submit(func(m *Master) {
			a, ok := m.agents[id]
			if !ok {
				return
			}
			a.State = types.AgentUnreachable

			for fwID, byTask := range a.Tasks {
				for _, task := range byTask {
					if !task.State.Terminal() {
						m.transitionTaskLocked(fwID, task, types.TaskLost)
					}
				}
			}
			m.rescindAgentOffersLocked(id)
			m.allocator.RemoveAgent(id)

			metrics.AgentUnreachableTotal.Inc()
			m.publish(events.EventAgentUnreachable, "agent "+string(id)+" marked unreachable", map[string]string{"agent_id": string(id)})
		})
	}()
}
