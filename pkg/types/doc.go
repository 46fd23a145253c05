// Package types defines the domain model shared by the registry, allocator,
// authz and master packages: agents, frameworks, offers, tasks, executors,
// resources and the operations a framework may bundle into an Accept call.
//
// Resources deliberately has no single "total across the cluster" method:
// scalar kinds (cpus, mem) sum safely, but set/range kinds (ports) do not, so
// every caller that needs a cluster-wide view works from the per-agent or
// per-framework partitioning instead.
package types
