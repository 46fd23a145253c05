/*
Package simple is a reference implementation of allocator.Allocator: a
weighted round-robin bin-packer adapted from this repository's own
scheduler. It favors roles with higher configured weight and agents with
the least already offered, and otherwise hands out whatever is free on a
fixed tick. It records per-role quota guarantees (SetQuota/RemoveQuota)
but does not consult them when making offers: a role's unmet guarantee
does not hold resources back from other roles.

It is not part of the master's fixed core — only the Allocator interface
is fixed, never the policy behind it — but it is what the demo binary and
the master's lifecycle tests wire in by default.
*/
package simple
