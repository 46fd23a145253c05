// Package future provides the single async primitive every suspension point
// in the master actor resolves through:
// authentication, authorization, registry commit, and the allocator's offer
// round-trip all hand the actor a *future.Future instead of blocking it.
// hashicorp/raft's own raft.ApplyFuture follows the same shape (an
// interface with a blocking Error()/Response() pair); this package is that
// idiom generalized with Go generics so registry, authz and allocator can
// share one waiting/continuation convention.
package future

// Future is a value that will be available later. Exactly one of the
// resolver's arguments is ever meaningful once Await returns.
type Future[T any] struct {
	ch chan result[T]
}

type result[T any] struct {
	val T
	err error
}

// New returns a Future and the resolver function that completes it. The
// resolver must be called exactly once; calling it more than once panics.
func New[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{ch: make(chan result[T], 1)}
	resolved := false
	return f, func(v T, err error) {
		if resolved {
			panic("future: resolved more than once")
		}
		resolved = true
		f.ch <- result[T]{val: v, err: err}
		close(f.ch)
	}
}

// Done returns a Future already resolved to (v, err); useful for
// collaborators that can answer synchronously (e.g. a permissive
// authorizer) without forcing every caller to special-case the sync path.
func Done[T any](v T, err error) *Future[T] {
	f, resolve := New[T]()
	resolve(v, err)
	return f
}

// Await blocks the calling goroutine until the future resolves. The master
// actor never calls Await directly on its own goroutine for an external
// future — see pkg/master's continuation-based suspension handling — but
// Await is what a dedicated waiter goroutine uses to turn the resolution
// into a queued continuation event.
func (f *Future[T]) Await() (T, error) {
	r := <-f.ch
	return r.val, r.err
}

// Then runs fn on its own goroutine once f resolves, forwarding the result
// into the returned Future. This is how the master turns "suspend until
// this future completes" into "enqueue a continuation event".
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	out, resolve := New[U]()
	go func() {
		v, err := f.Await()
		u, err2 := fn(v, err)
		resolve(u, err2)
	}()
	return out
}
