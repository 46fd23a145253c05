package master

import (
	"time"

	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// StatusUpdateMessage is what forwardStatusUpdateLocked hands to a
// framework's transport: the task's current reported state plus the UUID
// the framework must echo back via Acknowledge.
type StatusUpdateMessage struct {
	TaskID  types.TaskID
	AgentID types.AgentID
	State   types.TaskState
	UUID    string
}

// forwardStatusUpdateLocked assigns a fresh ack UUID and pushes the update
// down the framework's transport, if one is attached. Must run on the
// actor goroutine: it mutates task.PendingAckUUID.
func (m *Master) forwardStatusUpdateLocked(fwID types.FrameworkID, task *types.Task) {
	fw, ok := m.frameworks[fwID]
	if !ok {
		return
	}
	task.PendingAckUUID = newTaskUUID()

	if fw.Transport.Writer != nil {
		_ = fw.Transport.Writer.Send(StatusUpdateMessage{
			TaskID:  task.ID,
			AgentID: task.AgentID,
			State:   task.State,
			UUID:    task.PendingAckUUID,
		})
	}

	m.publish(events.EventTaskUpdated, "task "+string(task.ID)+" is now "+string(task.State), map[string]string{
		"task_id": string(task.ID),
		"state":   string(task.State),
	})
}

// UpdateTaskStatus is called when an agent reports a task's new state. It
// updates the in-memory task, recovers used-resources if the task reached a
// terminal state, and forwards the update to the owning framework.
func (m *Master) UpdateTaskStatus(agentID types.AgentID, frameworkID types.FrameworkID, taskID types.TaskID, state types.TaskState) {
	m.submit(func(m *Master) {
		var task *types.Task
		if agent, ok := m.agents[agentID]; ok {
			task = agent.Tasks[frameworkID][taskID]
		}
		if task == nil {
			// Straggler: the task (or its whole agent) is no longer tracked
			// here, but the framework may still be waiting on a terminal
			// state. Log it and forward the reported state best effort.
			m.logger.Warn().
				Str("task_id", string(taskID)).
				Str("agent_id", string(agentID)).
				Str("state", string(state)).
				Msg("status update for unknown task, forwarding anyway")
			stray := &types.Task{ID: taskID, FrameworkID: frameworkID, AgentID: agentID, State: state, UpdatedAt: time.Now()}
			m.forwardStatusUpdateLocked(frameworkID, stray)
			return
		}
		m.transitionTaskLocked(frameworkID, task, state)
	})
}

// AcknowledgeResult reports whether the acknowledged uuid matched a task's
// outstanding PendingAckUUID.
type AcknowledgeResult struct {
	Matched bool
}

// Acknowledge clears a task's pending-ack marker once the framework has
// confirmed receipt of a status update.
func (m *Master) Acknowledge(agentID types.AgentID, frameworkID types.FrameworkID, taskID types.TaskID, uuid string) *future.Future[AcknowledgeResult] {
	out, resolve := future.New[AcknowledgeResult]()
	m.submit(func(m *Master) {
		agent, ok := m.agents[agentID]
		if !ok {
			resolve(AcknowledgeResult{}, nil)
			return
		}
		task, ok := agent.Tasks[frameworkID][taskID]
		if !ok || task.PendingAckUUID != uuid {
			resolve(AcknowledgeResult{}, nil)
			return
		}
		task.PendingAckUUID = ""

		if task.State.Terminal() {
			delete(agent.Tasks[frameworkID], taskID)
			if fw, ok := m.frameworks[frameworkID]; ok {
				delete(fw.Tasks, taskID)
				appendCompletedTask(fw, task, m.cfg.MaxCompletedTasksPerFramework)
			}
		}

		resolve(AcknowledgeResult{Matched: true}, nil)
	})
	return out
}

func appendCompletedTask(fw *types.Framework, task *types.Task, max int) {
	fw.CompletedRing = append(fw.CompletedRing, task)
	if max > 0 && len(fw.CompletedRing) > max {
		fw.CompletedRing = fw.CompletedRing[len(fw.CompletedRing)-max:]
	}
}

// Reconcile answers a framework's Reconcile call: for each requested task id
// that the master knows about it resends the current status; for any id it
// has never heard of it reports TaskUnknown.
func (m *Master) Reconcile(frameworkID types.FrameworkID, taskIDs []types.TaskID) {
	m.submit(func(m *Master) {
		fw, ok := m.frameworks[frameworkID]
		if !ok {
			return
		}
		if len(taskIDs) == 0 {
			for _, task := range fw.Tasks {
				m.forwardStatusUpdateLocked(frameworkID, task)
			}
			return
		}
		for _, id := range taskIDs {
			if task, ok := fw.Tasks[id]; ok {
				m.forwardStatusUpdateLocked(frameworkID, task)
				continue
			}
			unknown := &types.Task{ID: id, FrameworkID: frameworkID, State: types.TaskUnknown, UpdatedAt: time.Now()}
			m.forwardStatusUpdateLocked(frameworkID, unknown)
		}
	})
}
