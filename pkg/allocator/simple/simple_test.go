package simple

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestAddAgentTracksFreeResources(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), nil)

	require.Equal(t, 4.0, scalarLoad(a.agents["s1"].free()))
}

func TestAllocateOffersFreeResourcesToActiveFramework(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), nil)
	a.AddFramework("f1", types.FrameworkInfo{ID: "f1"}, nil, true)

	var mu sync.Mutex
	var got map[types.AgentID]types.Resources
	err := a.Initialize(allocator.Flags{OfferInterval: 10 * time.Millisecond}, func(fid types.FrameworkID, bundles map[types.AgentID]types.Resources) {
		mu.Lock()
		defer mu.Unlock()
		if fid == "f1" && got == nil {
			got = bundles
		}
	}, nil)
	require.NoError(t, err)
	defer a.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, got, types.AgentID("s1"))
	require.Equal(t, 4.0, scalarLoad(got["s1"]))
}

func TestSuppressedFrameworkReceivesNoOffers(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), nil)
	a.AddFramework("f1", types.FrameworkInfo{ID: "f1"}, nil, true)
	a.SuppressOffers("f1")

	called := false
	err := a.Initialize(allocator.Flags{OfferInterval: 5 * time.Millisecond}, func(types.FrameworkID, map[types.AgentID]types.Resources) {
		called = true
	}, nil)
	require.NoError(t, err)
	defer a.Stop()

	time.Sleep(30 * time.Millisecond)
	require.False(t, called)
}

func TestRoleWhitelistExcludesNonMatchingFramework(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), nil)
	a.AddFramework("f1", types.FrameworkInfo{ID: "f1", Roles: []string{"dev"}}, nil, true)

	called := false
	err := a.Initialize(allocator.Flags{OfferInterval: 5 * time.Millisecond, RoleWhitelist: []string{"prod"}}, func(types.FrameworkID, map[types.AgentID]types.Resources) {
		called = true
	}, nil)
	require.NoError(t, err)
	defer a.Stop()

	time.Sleep(30 * time.Millisecond)
	require.False(t, called)
}

func TestUpdateAllocationMovesOfferedIntoUsed(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), nil)
	a.agents["s1"].offered = types.Scalar("cpus", 2)

	a.UpdateAllocation("f1", "s1", []types.Operation{
		{Kind: types.OpLaunch, TaskInfo: &types.TaskInfo{TaskID: "t1", Resources: types.Scalar("cpus", 1)}},
	})

	ag := a.agents["s1"]
	require.Equal(t, 1.0, scalarLoad(ag.offered))
	require.Equal(t, 1.0, scalarLoad(ag.usedByFramework["f1"]))
}

func TestRecoverResourcesReturnsOfferedToFreePool(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), nil)
	a.agents["s1"].offered = types.Scalar("cpus", 4)

	a.RecoverResources("f1", "s1", types.Scalar("cpus", 4), types.Filters{})

	require.Equal(t, 4.0, scalarLoad(a.agents["s1"].free()))
}

func TestRemoveFrameworkClearsItsUsedResources(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, nil, types.Scalar("cpus", 4), map[types.FrameworkID]types.Resources{
		"f1": types.Scalar("cpus", 2),
	})
	a.AddFramework("f1", types.FrameworkInfo{ID: "f1"}, nil, true)

	a.RemoveFramework("f1")

	_, ok := a.agents["s1"].usedByFramework["f1"]
	require.False(t, ok)
}

func TestUnavailableAgentExcludedFromOffers(t *testing.T) {
	a := New()
	a.AddAgent("s1", types.AgentInfo{ID: "s1"}, allocator.AgentCapabilities{}, &types.Unavailability{
		Start:    time.Now().Add(-time.Minute),
		Duration: time.Hour,
	}, types.Scalar("cpus", 4), nil)
	a.AddFramework("f1", types.FrameworkInfo{ID: "f1"}, nil, true)

	called := false
	err := a.Initialize(allocator.Flags{OfferInterval: 5 * time.Millisecond}, func(types.FrameworkID, map[types.AgentID]types.Resources) {
		called = true
	}, nil)
	require.NoError(t, err)
	defer a.Stop()

	time.Sleep(30 * time.Millisecond)
	require.False(t, called)
}
