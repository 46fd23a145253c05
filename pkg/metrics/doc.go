/*
Package metrics provides Prometheus metrics collection and exposition for the
master.

The metrics package defines and registers all master metrics using the
Prometheus client library, providing observability into agent and framework
population, the offer/accept pipeline, task accounting, and the durable
registry's Raft state. Metrics are exposed via an HTTP endpoint for scraping
by Prometheus servers.

# Metrics Catalog

Agent and Framework Metrics:

master_agents_total{state}:
  - Type: Gauge
  - Description: Number of tracked agents by lifecycle state (recovered, registered, disconnected, unreachable)

master_agent_unreachable_total:
  - Type: Counter
  - Description: Total times an agent transitioned to unreachable

master_frameworks_total{state}:
  - Type: Gauge
  - Description: Number of tracked frameworks by lifecycle state (registered, disconnected); torn-down frameworks are not counted

master_framework_failovers_total:
  - Type: Counter
  - Description: Total framework failover timeouts that fired before reregistration

Offer Pipeline Metrics:

master_offers_outstanding:
  - Type: Gauge
  - Description: Offers currently held by frameworks, not yet accepted/declined/expired

master_offers_sent_total, master_offers_rescinded_total, master_offers_expired_total:
  - Type: Counter
  - Description: Lifecycle counters for the offer ledger

master_accept_operations_total{kind, outcome}:
  - Type: Counter
  - Description: Operations processed from Accept calls, by kind (LAUNCH, RESERVE, ...) and outcome (applied, denied, failed)

Task Metrics:

master_tasks_total{state}:
  - Type: Gauge
  - Description: Tasks by state (staging, running, finished, failed, lost, ...)

master_task_launches_total:
  - Type: Counter
  - Description: Total tasks launched via the Accept pipeline

Rate Limiting Metrics:

master_rate_limit_drops_total{principal}:
  - Type: Counter
  - Description: Messages dropped because a principal's queue was at capacity

Registry and Raft Metrics:

master_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is the Raft leader (1=leader, 0=follower)

master_registry_admitted_total, master_registry_unreachable_total:
  - Type: Gauge
  - Description: Size of the durable registry's two membership lists

master_registry_commit_duration_seconds:
  - Type: Histogram
  - Description: Time for a registry Operation to commit through Raft

master_registry_gc_cycles_total:
  - Type: Counter
  - Description: Completed registry garbage-collection cycles

Subscriber and API Metrics:

master_subscribers_connected:
  - Type: Gauge
  - Description: Connected operator event-stream subscribers

master_api_requests_total{method, status}, master_api_request_duration_seconds{method}:
  - Type: Counter / Histogram
  - Description: Scheduler and operator API call volume and latency

# Usage

	import "github.com/cuemby/clustermaster/pkg/metrics"

	metrics.AgentsTotal.WithLabelValues("registered").Set(12)
	metrics.OffersSentTotal.Inc()

	timer := metrics.NewTimer()
	// ... apply a registry operation ...
	timer.ObserveDuration(metrics.RegistryCommitDuration)

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/master: sets master_offers_outstanding and bumps the lifecycle counters inline; as a StateProvider it is where the Collector reads the agent/framework/task/subscriber counts
  - pkg/registry: read by the Collector (as a RegistryProvider) for the Raft-leader and membership gauges; no package observes master_registry_commit_duration_seconds
  - pkg/ratelimit: bumps master_rate_limit_drops_total on queue overflow
  - pkg/api: instruments scheduler/operator request counters and durations
  - Prometheus: scrapes /metrics

# Design Patterns

All metrics are package-level variables registered once in init(). Label
cardinality is kept low and bounded (lifecycle states, operation kinds,
principals) — never task or offer IDs.
*/
package metrics
