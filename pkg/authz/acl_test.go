package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestACLAuthorizerGrantsListedAction(t *testing.T) {
	a := NewACLAuthorizer(map[Principal][]Action{
		"marathon": {ActionRegisterFramework, ActionRunTask},
	}, nil)

	allowed, err := a.Authorize(Request{Principal: "marathon", Action: ActionRunTask}).Await()
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestACLAuthorizerDeniesUnlistedAction(t *testing.T) {
	a := NewACLAuthorizer(map[Principal][]Action{
		"marathon": {ActionRunTask},
	}, nil)

	allowed, err := a.Authorize(Request{Principal: "marathon", Action: ActionSetQuota}).Await()
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestACLAuthorizerWildcardGrantsEverything(t *testing.T) {
	a := NewACLAuthorizer(map[Principal][]Action{
		"admin": {"*"},
	}, nil)

	allowed, err := a.Authorize(Request{Principal: "admin", Action: ActionDestroyVolume}).Await()
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestACLAuthorizerFallsBackToDefaultAllowForUnknownPrincipal(t *testing.T) {
	a := NewACLAuthorizer(nil, []Action{ActionLogAccess})

	allowed, err := a.Authorize(Request{Principal: "nobody", Action: ActionLogAccess}).Await()
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = a.Authorize(Request{Principal: "nobody", Action: ActionTeardown}).Await()
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestACLAuthorizerGrantAndRevoke(t *testing.T) {
	a := NewACLAuthorizer(nil, nil)

	allowed, _ := a.Authorize(Request{Principal: "p1", Action: ActionReserve}).Await()
	require.False(t, allowed)

	a.Grant("p1", ActionReserve)
	allowed, _ = a.Authorize(Request{Principal: "p1", Action: ActionReserve}).Await()
	require.True(t, allowed)

	a.Revoke("p1", ActionReserve)
	allowed, _ = a.Authorize(Request{Principal: "p1", Action: ActionReserve}).Await()
	require.False(t, allowed)
}

func TestAllowAllAuthorizerApprovesEverything(t *testing.T) {
	a := AllowAllAuthorizer{}
	allowed, err := a.Authorize(Request{Principal: "anyone", Action: ActionTeardown}).Await()
	require.NoError(t, err)
	require.True(t, allowed)
}
