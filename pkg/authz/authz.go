package authz

import (
	"crypto/x509"

	"github.com/cuemby/clustermaster/pkg/future"
)

// Principal identifies an authenticated caller, e.g. a framework's
// configured principal or an operator's certificate CN.
type Principal string

// Action enumerates the operations an Authorizer may be asked to approve:
// register framework, teardown, run task, reserve, unreserve, create
// volume, destroy volume, get quota, set quota, update weights, log
// access, and so on.
type Action string

const (
	ActionRegisterFramework Action = "register_framework"
	ActionTeardown          Action = "teardown"
	ActionRunTask           Action = "run_task"
	ActionReserve           Action = "reserve"
	ActionUnreserve         Action = "unreserve"
	ActionCreateVolume      Action = "create_volume"
	ActionDestroyVolume     Action = "destroy_volume"
	ActionGetQuota          Action = "get_quota"
	ActionSetQuota          Action = "set_quota"
	ActionRemoveQuota       Action = "remove_quota"
	ActionUpdateWeights     Action = "update_weights"
	ActionUpdateMaintenance Action = "update_maintenance"
	ActionLogAccess         Action = "log_access"
)

// Object is the target of an Action — a role name, task ID, agent ID, or an
// operation payload, depending on the action. Authorizer implementations
// type-switch on it as needed; the master never interprets it itself.
type Object any

// Request is what the master hands an Authorizer for each operation it must
// clear before applying it.
type Request struct {
	Principal Principal
	Action    Action
	Object    Object
}

// Authorizer decides whether a Request may proceed. Implementations must be
// safe for concurrent use; the master submits one Request per operation in
// an Accept batch concurrently and applies them in order only once every
// Authorize future has resolved.
type Authorizer interface {
	Authorize(req Request) *future.Future[bool]
}

// Connection is the minimal view of an inbound transport connection an
// Authenticator needs to resolve a principal: its verified peer certificate
// chain (when one exists), its remote address, and any bearer token it
// presented. HTTP- and websocket-backed
// connections in pkg/api populate this from the *tls.ConnectionState.
type Connection struct {
	PeerCertificates []*x509.Certificate
	RemoteAddr       string
	BearerToken      string
}

// Authenticator resolves a Connection to a Principal, or to no principal if
// the connection can't be authenticated.
// A nil *Principal in the resolved pair means "no principal" — not an
// error; an error means authentication itself failed transiently.
type Authenticator interface {
	Authenticate(conn Connection) *future.Future[*Principal]
}
