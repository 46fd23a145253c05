package registry

import (
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func agentInfo(id string) types.AgentInfo {
	return types.AgentInfo{ID: types.AgentID(id), Hostname: id}
}

func TestAdmitThenAdmitAgainConflicts(t *testing.T) {
	s := NewState()
	info := agentInfo("a1")

	changed, err := Admit{Info: info}.Apply(s)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = Admit{Info: info}.Apply(s)
	require.ErrorIs(t, err, ErrAlreadyAdmitted)
	require.Len(t, s.Admitted, 1)
}

func TestMarkUnreachableThenMarkReachableRestoresMembership(t *testing.T) {
	s := NewState()
	info := agentInfo("a1")
	_, err := Admit{Info: info}.Apply(s)
	require.NoError(t, err)

	changed, err := MarkUnreachable{Info: info, At: time.Now()}.Apply(s)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotContains(t, s.Admitted, info.ID)
	require.Contains(t, s.Unreachable, info.ID)

	changed, err = MarkReachable{Info: info}.Apply(s)
	require.NoError(t, err)
	require.True(t, changed)
	require.Contains(t, s.Admitted, info.ID)
	require.NotContains(t, s.Unreachable, info.ID)
}

func TestMarkReachableIsNoOpWhenAlreadyAdmitted(t *testing.T) {
	s := NewState()
	info := agentInfo("a1")
	_, err := Admit{Info: info}.Apply(s)
	require.NoError(t, err)

	changed, err := MarkReachable{Info: info}.Apply(s)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestMarkReachableDetectsGarbageCollectedAgent(t *testing.T) {
	s := NewState()
	info := agentInfo("a1")

	op := MarkReachable{Info: info}
	require.True(t, op.WasGarbageCollected(s))

	_, err := op.Apply(s)
	require.NoError(t, err)
	require.Contains(t, s.Admitted, info.ID)
}

func TestMarkUnreachableFailsWhenNotAdmitted(t *testing.T) {
	s := NewState()
	_, err := MarkUnreachable{Info: agentInfo("ghost"), At: time.Now()}.Apply(s)
	require.ErrorIs(t, err, ErrNotAdmitted)
}

func TestPruneUnreachableSkipsMissingIDsSilently(t *testing.T) {
	s := NewState()
	s.Unreachable[types.AgentID("a1")] = time.Now()

	changed, err := PruneUnreachable{IDs: []types.AgentID{"a1", "ghost"}}.Apply(s)
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, s.Unreachable)
}

func TestRemoveFailsWhenNotAdmitted(t *testing.T) {
	s := NewState()
	_, err := Remove{Info: agentInfo("ghost")}.Apply(s)
	require.ErrorIs(t, err, ErrNotAdmitted)
}

func TestRemoveDeletesAdmittedAgent(t *testing.T) {
	s := NewState()
	info := agentInfo("a1")
	_, err := Admit{Info: info}.Apply(s)
	require.NoError(t, err)

	changed, err := Remove{Info: info}.Apply(s)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotContains(t, s.Admitted, info.ID)
}
