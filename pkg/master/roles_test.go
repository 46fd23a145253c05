package master

import (
	"testing"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSetQuotaThenGetQuotaRoundTrips(t *testing.T) {
	m := newTestMaster(t)

	guarantee := types.Scalar("cpus", 2)
	err, _ := m.SetQuota(authz.Connection{}, "analytics", guarantee).Await()
	require.NoError(t, err)

	quota, err := m.GetQuota(authz.Connection{}, "analytics").Await()
	require.NoError(t, err)
	require.Equal(t, "analytics", quota.Role)
	require.True(t, quota.Guarantee.Contains(guarantee))
}

func TestRemoveQuotaClearsIt(t *testing.T) {
	m := newTestMaster(t)

	err, _ := m.SetQuota(authz.Connection{}, "analytics", types.Scalar("cpus", 2)).Await()
	require.NoError(t, err)

	err, _ = m.RemoveQuota(authz.Connection{}, "analytics").Await()
	require.NoError(t, err)

	quota, err := m.GetQuota(authz.Connection{}, "analytics").Await()
	require.NoError(t, err)
	require.Empty(t, quota.Role)

	// Removing a quota that was never set is a quiet no-op.
	err, _ = m.RemoveQuota(authz.Connection{}, "never-set").Await()
	require.NoError(t, err)
}

func TestUpdateWeightsAppliesToListedRoles(t *testing.T) {
	m := newTestMaster(t)

	err, _ := m.UpdateWeights(authz.Connection{}, map[string]float64{"prod": 2.5}).Await()
	require.NoError(t, err)

	roles := m.ListRoles()
	require.Len(t, roles, 1)
	require.Equal(t, "prod", roles[0].Name)
	require.Equal(t, 2.5, roles[0].Weight)
}

func TestListRolesTracksFrameworkMembership(t *testing.T) {
	m := newTestMaster(t)

	_, err := m.Subscribe(authz.Connection{}, types.FrameworkInfo{Name: "marathon", Roles: []string{"prod"}}, types.Transport{Kind: types.TransportHTTPStream, Writer: discardSink{}}).Await()
	require.NoError(t, err)

	roles := m.ListRoles()
	require.Len(t, roles, 1)
	require.Len(t, roles[0].Members, 1)
}
