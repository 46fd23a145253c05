/*
Package master implements the single-actor cluster master: the authority
that mediates between resource-offering agents and resource-consuming
frameworks.

# Actor model

A Master owns all mutable state — the agent registry, the framework
registry, the offer ledger, task/executor accounting — behind a single
goroutine (run). Every public method is a thin wrapper that does its async
prework (authentication, authorization, a registry commit, an allocator
round-trip) on its own goroutine via pkg/future, then submits the resulting
state mutation as a closure onto the actor's inbox channel. The actor
itself never blocks: it only ever executes already-resolved continuations,
one at a time, which is what keeps the cross-entity invariants (an offer
belongs to exactly one framework and one agent; used+offered never exceeds
total) correct without fine-grained locking.

# Collaborators

A Master is constructed with:
  - a registry.Client for durable agent admission
  - an allocator.Allocator for offer generation
  - an authz.Authenticator and authz.Authorizer for suspension-point
    access control
  - a ratelimit.Limiter for per-principal message admission
  - an events.Broker for the operator event stream

See config.go for the full set of recognized flags.
*/
package master
