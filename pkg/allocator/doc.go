/*
Package allocator defines the master's pluggable resource-allocation
collaborator. The algorithm that decides how
free resources are sliced and offered to frameworks is explicitly out of
scope for the master core; only the interface the master drives it through
is specified here.

The master actor calls these methods synchronously to keep the allocator's
own bookkeeping (per-framework/per-agent totals, roles, weights, quotas) in
sync with every lifecycle transition, and suspends on the single
asynchronous round-trip: Initialize's offerCallback/inverseOfferCallback are
invoked by the allocator, on its own goroutine, whenever it decides to make
an offer, and the master turns that invocation into a continuation event the
same way it turns a registry commit into one.

See pkg/allocator/simple for a reference implementation.
*/
package allocator
