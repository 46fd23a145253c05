// Package registry implements the durable registry protocol:
// every state change that must survive master failover is expressed as a
// mutating Operation and committed through a replicated log before the
// master's in-memory state reflects it.
//
// The registry holds exactly two lists — admitted agents and unreachable
// agents — and exposes one method, Client.Apply, that commits an Operation
// and reports whether it changed anything. Replication itself is
// hashicorp/raft; the registry package only supplies the FSM's
// Apply/Snapshot/Restore bodies and the Operation vocabulary — the
// replicated log itself is an external collaborator, not part of the core.
package registry
