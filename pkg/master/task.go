package master

import (
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// ShutdownExecutorMessage tells an agent to shut one of a framework's
// executors down, killing any tasks still running under it.
type ShutdownExecutorMessage struct {
	FrameworkID types.FrameworkID
	ExecutorID  types.ExecutorID
}

// ExecutorMessage carries an opaque framework-to-executor payload. The
// master forwards it verbatim and guarantees nothing about delivery.
type ExecutorMessage struct {
	FrameworkID types.FrameworkID
	ExecutorID  types.ExecutorID
	Data        []byte
}

// Kill handles a framework's Kill call. If the agent running the task is
// connected the kill is forwarded immediately; otherwise it is recorded in
// the agent's killed-task set and re-sent when the agent re-registers. A
// kill naming a task the master has never seen answers with a TaskUnknown
// status update so the framework can converge anyway.
func (m *Master) Kill(conn authz.Connection, frameworkID types.FrameworkID, taskID types.TaskID) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		if _, err := m.authenticateOrDeny(conn); err != nil {
			resolve(err, nil)
			return
		}

		m.submit(func(m *Master) {
			fw, ok := m.frameworks[frameworkID]
			if !ok {
				resolve(ErrUnknownFramework, nil)
				return
			}

			task, ok := fw.Tasks[taskID]
			if !ok {
				unknown := &types.Task{ID: taskID, FrameworkID: frameworkID, State: types.TaskUnknown}
				m.forwardStatusUpdateLocked(frameworkID, unknown)
				resolve(nil, nil)
				return
			}

			agent, ok := m.agents[task.AgentID]
			if !ok {
				// The agent is gone entirely; nothing is running anymore.
				m.transitionTaskLocked(frameworkID, task, types.TaskKilled)
				resolve(nil, nil)
				return
			}

			if agent.KilledTasks[frameworkID] == nil {
				agent.KilledTasks[frameworkID] = make(map[types.TaskID]struct{})
			}
			agent.KilledTasks[frameworkID][taskID] = struct{}{}

			if sink, ok := m.agentSinks[task.AgentID]; ok && sink != nil {
				_ = sink.Send(KillTaskMessage{FrameworkID: frameworkID, TaskID: taskID})
			}
			resolve(nil, nil)
		})
	}()

	return out
}

// ShutdownExecutor handles a framework's Shutdown call: forward the
// shutdown to the executor's agent. Task state changes arrive afterwards
// as ordinary status updates from the agent.
func (m *Master) ShutdownExecutor(conn authz.Connection, frameworkID types.FrameworkID, agentID types.AgentID, executorID types.ExecutorID) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		if _, err := m.authenticateOrDeny(conn); err != nil {
			resolve(err, nil)
			return
		}

		m.submit(func(m *Master) {
			if _, ok := m.frameworks[frameworkID]; !ok {
				resolve(ErrUnknownFramework, nil)
				return
			}
			if _, ok := m.agents[agentID]; !ok {
				resolve(ErrUnknownAgent, nil)
				return
			}
			if sink, ok := m.agentSinks[agentID]; ok && sink != nil {
				_ = sink.Send(ShutdownExecutorMessage{FrameworkID: frameworkID, ExecutorID: executorID})
			}
			resolve(nil, nil)
		})
	}()

	return out
}

// Message forwards an opaque payload from a framework to one of its
// executors. Best effort: a disconnected agent silently drops it.
func (m *Master) Message(frameworkID types.FrameworkID, agentID types.AgentID, executorID types.ExecutorID, data []byte) {
	m.submit(func(m *Master) {
		if _, ok := m.frameworks[frameworkID]; !ok {
			return
		}
		if sink, ok := m.agentSinks[agentID]; ok && sink != nil {
			_ = sink.Send(ExecutorMessage{FrameworkID: frameworkID, ExecutorID: executorID, Data: data})
		}
	})
}

// Request handles a framework's Request call. The allocator contract has
// no request path — resources flow exclusively through offers — so the
// call is acknowledged and logged, never acted on.
func (m *Master) Request(frameworkID types.FrameworkID, requests []types.ResourceRequest) {
	m.submit(func(m *Master) {
		if _, ok := m.frameworks[frameworkID]; !ok {
			return
		}
		m.logger.Debug().Str("framework_id", string(frameworkID)).Int("requests", len(requests)).Msg("ignoring resource request; allocation is offer-driven")
	})
}

// transitionTaskLocked moves a task to state, adjusting used-resources
// accounting if the transition crosses into terminal, and forwards the
// status update to the owning framework. Must run on the actor goroutine.
func (m *Master) transitionTaskLocked(frameworkID types.FrameworkID, task *types.Task, state types.TaskState) {
	wasTerminal := task.State.Terminal()
	task.State = state
	task.UpdatedAt = time.Now()

	if state.Terminal() && !wasTerminal {
		if agent, ok := m.agents[task.AgentID]; ok {
			agent.UsedResources[frameworkID] = agent.UsedResources[frameworkID].Subtract(task.Resources)
			delete(agent.KilledTasks[frameworkID], task.ID)
		}
		if fw, ok := m.frameworks[frameworkID]; ok {
			fw.UsedResources[task.AgentID] = fw.UsedResources[task.AgentID].Subtract(task.Resources)
		}
		m.allocator.RecoverResources(frameworkID, task.AgentID, task.Resources, types.Filters{})
	}

	m.forwardStatusUpdateLocked(frameworkID, task)
}
