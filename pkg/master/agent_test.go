package master

import (
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestRegisterAgentAssignsIDAndAdmitsToRegistry(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestAgent(t, m, "a1")
	require.NotEmpty(t, id)

	snapshots := m.ListAgents()
	require.Len(t, snapshots, 1)
	require.Equal(t, id, snapshots[0].Info.ID)
	require.True(t, snapshots[0].Connected)
	require.True(t, snapshots[0].Active)
}

func TestReregisterUnknownAgentFailsInStrictMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegistryStrict = true
	m := newTestMasterWithConfig(t, cfg)

	info := testAgentInfo("ghost")
	info.ID = "never-registered"
	_, err := m.ReregisterAgent(authz.Connection{}, info, nil, discardSink{}).Await()
	require.ErrorIs(t, err, ErrUnknownAgent)
}

func TestRemoveAgentThenReregisterIsRefused(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestAgent(t, m, "a1")

	err, _ := m.RemoveAgent(authz.Connection{}, id).Await()
	require.NoError(t, err)

	require.Empty(t, m.ListAgents())

	info := testAgentInfo("a1")
	info.ID = id
	_, err = m.ReregisterAgent(authz.Connection{}, info, nil, discardSink{}).Await()
	require.ErrorIs(t, err, ErrAgentRemoved)
}

func TestReregisterReconcilesUnreportedTaskAsLost(t *testing.T) {
	m := newTestMaster(t)
	_, fwSink, _, agentID := launchTestTask(t, m, "task-1")

	// The agent comes back with an empty snapshot: task-1 is gone on its
	// side, so the master kills it and the framework learns it is lost.
	freshSink := &capturingSink{}
	info := testAgentInfo("a1")
	info.ID = agentID
	_, err := m.ReregisterAgent(authz.Connection{}, info, nil, freshSink).Await()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, v := range freshSink.snapshot() {
			if kill, ok := v.(KillTaskMessage); ok && kill.TaskID == "task-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "agent never received the reconciliation kill")

	require.Eventually(t, func() bool {
		for _, v := range fwSink.snapshot() {
			if upd, ok := v.(StatusUpdateMessage); ok && upd.TaskID == "task-1" && upd.State == types.TaskLost {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "framework never saw TASK_LOST")
}

func TestReregisterAdoptsAgentReportedTask(t *testing.T) {
	m := newTestMaster(t)

	agentID := registerTestAgent(t, m, "a1")
	fwID := registerTestFramework(t, m, "marathon")

	reported := []types.Task{{
		ID:          "survivor",
		FrameworkID: fwID,
		State:       types.TaskRunning,
		Resources:   types.Scalar("cpus", 1),
	}}
	info := testAgentInfo("a1")
	info.ID = agentID
	_, err := m.ReregisterAgent(authz.Connection{}, info, reported, discardSink{}).Await()
	require.NoError(t, err)

	tasks := m.ListTasks(fwID)
	require.Len(t, tasks, 1)
	require.Equal(t, types.TaskID("survivor"), tasks[0].ID)
	require.Equal(t, types.TaskRunning, tasks[0].State)
	require.Equal(t, agentID, tasks[0].AgentID)
}

func TestRegisterAgentTwiceConflictsInRegistry(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestAgent(t, m, "a1")

	// A second Admit naming the same assigned id should never happen through
	// the public API (RegisterAgent always mints a fresh id), but Apply
	// itself still refuses a duplicate Admit at the registry layer.
	info := testAgentInfo("a1")
	info.ID = id
	_, err := m.registry.Apply(registry.Admit{Info: info}).Await()
	require.ErrorIs(t, err, registry.ErrAlreadyAdmitted)
}
