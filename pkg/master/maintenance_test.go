package master

import (
	"testing"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestMachineDownDeactivatesMatchingAgent(t *testing.T) {
	m := newTestMaster(t)

	registerTestAgent(t, m, "a1")
	machineID := types.MachineID{Hostname: "a1", IP: "127.0.0.1"}

	err, _ := m.MachineDown(authz.Connection{}, machineID).Await()
	require.NoError(t, err)

	snaps := m.ListAgents()
	require.Len(t, snaps, 1)
	require.False(t, snaps[0].Active)

	machine, ok := m.GetMachine(machineID)
	require.True(t, ok)
	require.Equal(t, types.MachineDown, machine.Mode)
}

func TestMachineUpReactivatesConnectedAgent(t *testing.T) {
	m := newTestMaster(t)

	registerTestAgent(t, m, "a1")
	machineID := types.MachineID{Hostname: "a1", IP: "127.0.0.1"}

	err, _ := m.MachineDown(authz.Connection{}, machineID).Await()
	require.NoError(t, err)
	err, _ = m.MachineUp(authz.Connection{}, machineID).Await()
	require.NoError(t, err)

	snaps := m.ListAgents()
	require.Len(t, snaps, 1)
	require.True(t, snaps[0].Active)
}

func TestGetMachineUnknownReturnsFalse(t *testing.T) {
	m := newTestMaster(t)

	_, ok := m.GetMachine(types.MachineID{Hostname: "ghost", IP: "0.0.0.0"})
	require.False(t, ok)
}

func TestUpdateMaintenanceScheduleStoresWindows(t *testing.T) {
	m := newTestMaster(t)

	machineID := types.MachineID{Hostname: "a1", IP: "127.0.0.1"}
	windows := []types.Unavailability{{}}

	err, _ := m.UpdateMaintenanceSchedule(authz.Connection{}, machineID, windows).Await()
	require.NoError(t, err)

	machine, ok := m.GetMachine(machineID)
	require.True(t, ok)
	require.Len(t, machine.Schedule, 1)
}
