package authz

import (
	"errors"
	"sync"

	"github.com/cuemby/clustermaster/pkg/future"
)

// ErrAuthenticationSuperseded resolves an in-flight authentication attempt
// whose remote endpoint started a newer attempt before the first completed.
// Callers treat it like any other transient authentication failure; only
// the newest attempt's result feeds message dispatch.
var ErrAuthenticationSuperseded = errors.New("authz: authentication superseded by a newer attempt")

// Tracker wraps an Authenticator and holds at most one pending
// authentication per remote endpoint. A second Authenticate call from the
// same endpoint supersedes the first: the older future resolves immediately
// with ErrAuthenticationSuperseded and the older attempt's eventual result
// is discarded.
type Tracker struct {
	next Authenticator

	mu      sync.Mutex
	pending map[string]*pendingAuth
}

type pendingAuth struct {
	once    sync.Once
	resolve func(*Principal, error)
}

func (p *pendingAuth) finish(principal *Principal, err error) {
	p.once.Do(func() { p.resolve(principal, err) })
}

// NewTracker wraps next with per-endpoint supersede semantics.
func NewTracker(next Authenticator) *Tracker {
	return &Tracker{
		next:    next,
		pending: make(map[string]*pendingAuth),
	}
}

// Authenticate resolves conn to a principal via the wrapped Authenticator,
// first superseding any attempt already in flight for conn.RemoteAddr.
func (t *Tracker) Authenticate(conn Connection) *future.Future[*Principal] {
	out, resolve := future.New[*Principal]()
	entry := &pendingAuth{resolve: resolve}

	t.mu.Lock()
	if prev, ok := t.pending[conn.RemoteAddr]; ok {
		prev.finish(nil, ErrAuthenticationSuperseded)
	}
	t.pending[conn.RemoteAddr] = entry
	t.mu.Unlock()

	go func() {
		principal, err := t.next.Authenticate(conn).Await()

		t.mu.Lock()
		if t.pending[conn.RemoteAddr] == entry {
			delete(t.pending, conn.RemoteAddr)
		}
		t.mu.Unlock()

		// If a newer attempt superseded this one, finish is a no-op and the
		// result is discarded.
		entry.finish(principal, err)
	}()

	return out
}

// PendingCount reports how many endpoints currently have an authentication
// in flight.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

var _ Authenticator = (*Tracker)(nil)
