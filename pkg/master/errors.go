package master

import "errors"

// ErrAuthorizationDenied is returned when an Authorizer answers false for a
// request with no underlying error.
var ErrAuthorizationDenied = errors.New("master: authorization denied")

// ErrUnknownOffer is returned when Accept/Decline names an offer id the
// ledger no longer holds — it may have expired or already been consumed by
// a racing Accept.
var ErrUnknownOffer = errors.New("master: unknown or already-resolved offer")

// ErrOfferForeign is returned when Accept references an offer that exists
// but belongs to another framework, or mixes offers from different agents
// in one call. The whole Accept is refused without touching the ledger.
var ErrOfferForeign = errors.New("master: offer belongs to another framework or a different agent")

// ErrUnknownFramework is returned when an operator or scheduler call names
// a framework id the master has no record of.
var ErrUnknownFramework = errors.New("master: unknown framework")

// ErrInsufficientOfferedResources is surfaced as a task-level error when a
// LAUNCH/LAUNCH_GROUP's resources are not covered by what remains of the
// accepted offer bundle.
var ErrInsufficientOfferedResources = errors.New("master: launch resources not covered by offered bundle")

// ErrAgentRemoved is returned when a previously removed agent id tries to
// register again while still within the removed LRU cache's bound.
var ErrAgentRemoved = errors.New("master: agent id was administratively removed")
