package master

import (
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func launchOneTask(t *testing.T, m *Master) (types.AgentID, types.FrameworkID, types.TaskID) {
	t.Helper()

	agentID := registerTestAgent(t, m, "a1")
	fwSink := &capturingSink{}
	fwID := registerTestFrameworkWithSink(t, m, "marathon", fwSink)

	offer := waitForOffer(t, fwSink)
	op := types.Operation{
		Kind:    types.OpLaunch,
		AgentID: offer.AgentID,
		TaskInfo: &types.TaskInfo{
			TaskID:    "task-1",
			Resources: types.Scalar("cpus", 1),
		},
	}
	_, err := m.Accept(authz.Connection{}, fwID, []types.OfferID{offer.ID}, []types.Operation{op}, types.Filters{}).Await()
	require.NoError(t, err)

	return agentID, fwID, "task-1"
}

func TestUpdateTaskStatusForwardsToFrameworkWithUUID(t *testing.T) {
	m := newTestMaster(t)
	agentID, fwID, taskID := launchOneTask(t, m)

	m.UpdateTaskStatus(agentID, fwID, taskID, types.TaskRunning)

	tasks := m.ListTasks(fwID)
	require.Len(t, tasks, 1)
	require.Equal(t, types.TaskRunning, tasks[0].State)
	require.NotEmpty(t, tasks[0].PendingAckUUID)
}

func TestUpdateTaskStatusForUnknownTaskForwardsAnyway(t *testing.T) {
	m := newTestMaster(t)

	agentID := registerTestAgent(t, m, "a1")
	fwSink := &capturingSink{}
	fwID := registerTestFrameworkWithSink(t, m, "marathon", fwSink)

	// Never launched here: a straggler update from before a failover.
	m.UpdateTaskStatus(agentID, fwID, "stray-task", types.TaskFinished)

	require.Eventually(t, func() bool {
		for _, v := range fwSink.snapshot() {
			if upd, ok := v.(StatusUpdateMessage); ok && upd.TaskID == "stray-task" {
				return upd.State == types.TaskFinished
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "framework never saw the stray update")
}

func TestAcknowledgeClearsPendingUUID(t *testing.T) {
	m := newTestMaster(t)
	agentID, fwID, taskID := launchOneTask(t, m)

	m.UpdateTaskStatus(agentID, fwID, taskID, types.TaskRunning)
	tasks := m.ListTasks(fwID)
	require.Len(t, tasks, 1)
	uuid := tasks[0].PendingAckUUID
	require.NotEmpty(t, uuid)

	result, err := m.Acknowledge(agentID, fwID, taskID, uuid).Await()
	require.NoError(t, err)
	require.True(t, result.Matched)

	tasks = m.ListTasks(fwID)
	require.Empty(t, tasks[0].PendingAckUUID)
}

func TestAcknowledgeTerminalTaskRetiresIt(t *testing.T) {
	m := newTestMaster(t)
	agentID, fwID, taskID := launchOneTask(t, m)

	m.UpdateTaskStatus(agentID, fwID, taskID, types.TaskFinished)
	tasks := m.ListTasks(fwID)
	require.Len(t, tasks, 1)
	uuid := tasks[0].PendingAckUUID

	_, err := m.Acknowledge(agentID, fwID, taskID, uuid).Await()
	require.NoError(t, err)

	require.Empty(t, m.ListTasks(fwID))
}

func TestAcknowledgeWithMismatchedUUIDDoesNotMatch(t *testing.T) {
	m := newTestMaster(t)
	agentID, fwID, taskID := launchOneTask(t, m)
	m.UpdateTaskStatus(agentID, fwID, taskID, types.TaskRunning)

	result, err := m.Acknowledge(agentID, fwID, taskID, "wrong-uuid").Await()
	require.NoError(t, err)
	require.False(t, result.Matched)
}

func TestReconcileResendsKnownTaskStatus(t *testing.T) {
	m := newTestMaster(t)
	fwSink := &capturingSink{}

	_ = registerTestAgent(t, m, "a1")
	fwID := registerTestFrameworkWithSink(t, m, "marathon", fwSink)
	offer := waitForOffer(t, fwSink)

	op := types.Operation{
		Kind:    types.OpLaunch,
		AgentID: offer.AgentID,
		TaskInfo: &types.TaskInfo{
			TaskID:    "task-1",
			Resources: types.Scalar("cpus", 1),
		},
	}
	_, err := m.Accept(authz.Connection{}, fwID, []types.OfferID{offer.ID}, []types.Operation{op}, types.Filters{}).Await()
	require.NoError(t, err)

	m.Reconcile(fwID, nil)

	require.Eventually(t, func() bool {
		for _, v := range fwSink.snapshot() {
			if _, ok := v.(StatusUpdateMessage); ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "reconcile never resent a status update")
}
