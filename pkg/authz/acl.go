package authz

import (
	"sync"

	"github.com/cuemby/clustermaster/pkg/future"
)

// ACLAuthorizer grants a principal an action when it appears in that
// principal's allowed-action set, or when the principal has the wildcard
// entry "*". Any request with no matching grant, from an unknown principal
// or a listed one, falls back to defaultAllow, which lets an
// operator permit anonymous connections to a specific action (e.g.
// log_access) without opening everything up.
type ACLAuthorizer struct {
	mu           sync.RWMutex
	allowed      map[Principal]map[Action]bool
	defaultAllow map[Action]bool
}

// NewACLAuthorizer builds an ACLAuthorizer from a static rule set.
func NewACLAuthorizer(allowed map[Principal][]Action, defaultAllow []Action) *ACLAuthorizer {
	a := &ACLAuthorizer{
		allowed:      make(map[Principal]map[Action]bool, len(allowed)),
		defaultAllow: make(map[Action]bool, len(defaultAllow)),
	}
	for p, actions := range allowed {
		set := make(map[Action]bool, len(actions))
		for _, act := range actions {
			set[act] = true
		}
		a.allowed[p] = set
	}
	for _, act := range defaultAllow {
		a.defaultAllow[act] = true
	}
	return a
}

// Authorize resolves synchronously — ACL evaluation is an in-memory map
// lookup, not an I/O-bound suspension point — but still returns a Future so
// it satisfies Authorizer uniformly alongside authorizers that do suspend.
func (a *ACLAuthorizer) Authorize(req Request) *future.Future[bool] {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if set, ok := a.allowed[req.Principal]; ok {
		if set["*"] || set[req.Action] {
			return future.Done(true, nil)
		}
	}
	return future.Done(a.defaultAllow[req.Action], nil)
}

// Grant adds action to principal's allowed set, for dynamic reconfiguration
// (e.g. an operator API call that updates ACLs without a restart).
func (a *ACLAuthorizer) Grant(principal Principal, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allowed[principal] == nil {
		a.allowed[principal] = make(map[Action]bool)
	}
	a.allowed[principal][action] = true
}

// Revoke removes action from principal's allowed set.
func (a *ACLAuthorizer) Revoke(principal Principal, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.allowed[principal]; ok {
		delete(set, action)
	}
}
