package master

import (
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func waitForOffer(t *testing.T, sink *capturingSink) *types.Offer {
	t.Helper()
	var got *types.Offer
	require.Eventually(t, func() bool {
		offers := sink.offers()
		if len(offers) == 0 {
			return false
		}
		got = offers[0]
		return true
	}, 3*time.Second, 20*time.Millisecond, "no offer delivered to framework")
	return got
}

func TestActiveAgentAndFrameworkProduceAnOffer(t *testing.T) {
	m := newTestMaster(t)

	registerTestAgent(t, m, "a1")
	sink := &capturingSink{}
	registerTestFrameworkWithSink(t, m, "marathon", sink)

	offer := waitForOffer(t, sink)
	require.NotEmpty(t, offer.ID)
	require.True(t, offer.Resources.Contains(types.Scalar("cpus", 1)))
}

func TestAcceptLaunchInstallsTaskAndNotifiesAgent(t *testing.T) {
	m := newTestMaster(t)

	agentSink := &capturingSink{}
	_, err := m.RegisterAgent(authz.Connection{}, testAgentInfo("a1"), agentSink).Await()
	require.NoError(t, err)

	fwSink := &capturingSink{}
	fwID := registerTestFrameworkWithSink(t, m, "marathon", fwSink)

	offer := waitForOffer(t, fwSink)

	op := types.Operation{
		Kind:    types.OpLaunch,
		AgentID: offer.AgentID,
		TaskInfo: &types.TaskInfo{
			TaskID:    "task-1",
			Name:      "sleep",
			Resources: types.Scalar("cpus", 1),
			Command:   []string{"/bin/sleep", "60"},
		},
	}

	result, err := m.Accept(authz.Connection{}, fwID, []types.OfferID{offer.ID}, []types.Operation{op}, types.Filters{}).Await()
	require.NoError(t, err)
	require.Empty(t, result.LaunchErrors)

	tasks := m.ListTasks(fwID)
	require.Len(t, tasks, 1)
	require.Equal(t, types.TaskID("task-1"), tasks[0].ID)

	require.Eventually(t, func() bool {
		for _, v := range agentSink.snapshot() {
			if run, ok := v.(RunTaskMessage); ok && run.Task.TaskID == "task-1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond, "agent never received RunTaskMessage")
}

func TestAcceptRejectsUnknownOffer(t *testing.T) {
	m := newTestMaster(t)
	fwID := registerTestFramework(t, m, "marathon")

	_, err := m.Accept(authz.Connection{}, fwID, []types.OfferID{"bogus"}, nil, types.Filters{}).Await()
	require.ErrorIs(t, err, ErrUnknownOffer)
}

// denyRunTaskAuthorizer approves everything except launching tasks.
type denyRunTaskAuthorizer struct{}

func (denyRunTaskAuthorizer) Authorize(req authz.Request) *future.Future[bool] {
	return future.Done(req.Action != authz.ActionRunTask, nil)
}

func TestDeniedLaunchGroupSurfacesPerTaskErrors(t *testing.T) {
	m := newTestMasterWithAuthorizer(t, DefaultConfig(), denyRunTaskAuthorizer{})

	registerTestAgent(t, m, "a1")
	sink := &capturingSink{}
	fwID := registerTestFrameworkWithSink(t, m, "marathon", sink)

	offer := waitForOffer(t, sink)

	op := types.Operation{
		Kind:    types.OpLaunchGroup,
		AgentID: offer.AgentID,
		TaskInfos: []*types.TaskInfo{
			{TaskID: "grp-1", Resources: types.Scalar("cpus", 1)},
			{TaskID: "grp-2", Resources: types.Scalar("cpus", 1)},
		},
	}
	result, err := m.Accept(authz.Connection{}, fwID, []types.OfferID{offer.ID}, []types.Operation{op}, types.Filters{}).Await()
	require.NoError(t, err)
	require.Len(t, result.LaunchErrors, 2)
	require.ErrorIs(t, result.LaunchErrors["grp-1"], ErrAuthorizationDenied)
	require.ErrorIs(t, result.LaunchErrors["grp-2"], ErrAuthorizationDenied)
	require.Empty(t, m.ListTasks(fwID))
}

func TestDeclineReturnsOfferToAllocator(t *testing.T) {
	m := newTestMaster(t)

	registerTestAgent(t, m, "a1")
	sink := &capturingSink{}
	fwID := registerTestFrameworkWithSink(t, m, "marathon", sink)

	offer := waitForOffer(t, sink)

	err, _ := m.Decline(authz.Connection{}, fwID, []types.OfferID{offer.ID}, types.Filters{}).Await()
	require.NoError(t, err)
}
