package master

import (
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSubscribeRegistersFreshFramework(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestFramework(t, m, "marathon")
	require.NotEmpty(t, id)

	snapshots := m.ListFrameworks()
	require.Len(t, snapshots, 1)
	require.Equal(t, id, snapshots[0].Info.ID)
	require.True(t, snapshots[0].Active)
}

func TestSubscribeWithExistingIDRebindsTransport(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestFramework(t, m, "marathon")

	info := types.FrameworkInfo{ID: id, Name: "marathon"}
	transport := types.Transport{Kind: types.TransportHTTPStream, Writer: discardSink{}}
	second, err := m.Subscribe(authz.Connection{}, info, transport).Await()
	require.NoError(t, err)
	require.Equal(t, id, second.FrameworkID)

	require.Len(t, m.ListFrameworks(), 1)
}

func TestTeardownRemovesFramework(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestFramework(t, m, "marathon")

	err, _ := m.Teardown(authz.Connection{}, id).Await()
	require.NoError(t, err)

	require.Empty(t, m.ListFrameworks())
}

func TestTeardownKillsRunningTasksOnAgents(t *testing.T) {
	m := newTestMaster(t)
	agentSink, _, fwID, _ := launchTestTask(t, m, "task-1")

	err, _ := m.Teardown(authz.Connection{}, fwID).Await()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, v := range agentSink.snapshot() {
			if kill, ok := v.(KillTaskMessage); ok && kill.TaskID == "task-1" && kill.FrameworkID == fwID {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "agent never received the teardown kill")

	require.Empty(t, m.ListFrameworks())
}

func TestFrameworkDisconnectedMarksInactive(t *testing.T) {
	m := newTestMaster(t)

	id := registerTestFramework(t, m, "marathon")
	m.FrameworkDisconnected(id)

	snaps := m.ListFrameworks()
	require.Len(t, snaps, 1)
	require.False(t, snaps[0].Connected)
}
