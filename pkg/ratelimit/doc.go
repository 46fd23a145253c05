// Package ratelimit implements per-principal rate limiting: a token bucket
// per principal plus a bounded queue of messages waiting for a refill. A
// principal without an explicit configuration
// inherits the default_limiter; an unauthenticated connection inherits it
// too.
//
// The bucket itself is golang.org/x/time/rate.Limiter — the idiomatic choice
// over a hand-rolled counter.
package ratelimit
