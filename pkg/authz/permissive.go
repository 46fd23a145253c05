package authz

import "github.com/cuemby/clustermaster/pkg/future"

// AllowAllAuthorizer approves every request. It is the default when no
// ACL configuration is supplied, matching Mesos's own "open cluster"
// default posture.
type AllowAllAuthorizer struct{}

// Authorize always resolves to (true, nil).
func (AllowAllAuthorizer) Authorize(Request) *future.Future[bool] {
	return future.Done(true, nil)
}

// NoneAuthenticator resolves every connection to no principal. cmd/master
// wires it in whether or not --authentication-required is set. With the
// flag off, downstream Authorizers see a Request with an empty Principal
// and decide for themselves whether anonymous access is acceptable; with it
// on, the master refuses every call it authenticates.
type NoneAuthenticator struct{}

// Authenticate always resolves to (nil, nil).
func (NoneAuthenticator) Authenticate(Connection) *future.Future[*Principal] {
	return future.Done[*Principal](nil, nil)
}
