package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "master_agents_total",
			Help: "Total number of agents by lifecycle state",
		},
		[]string{"state"},
	)

	AgentUnreachableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_agent_unreachable_total",
			Help: "Total number of times an agent was marked unreachable",
		},
	)

	// Framework metrics
	FrameworksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "master_frameworks_total",
			Help: "Total number of frameworks by lifecycle state",
		},
		[]string{"state"},
	)

	FrameworkFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_framework_failovers_total",
			Help: "Total number of framework failover timeouts that fired",
		},
	)

	// Offer metrics
	OffersOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "master_offers_outstanding",
			Help: "Number of offers currently in the ledger",
		},
	)

	OffersSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_offers_sent_total",
			Help: "Total number of offers sent to frameworks",
		},
	)

	OffersRescindedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_offers_rescinded_total",
			Help: "Total number of offers rescinded",
		},
	)

	OffersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_offers_expired_total",
			Help: "Total number of offers that expired before being accepted or declined",
		},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "master_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	TaskLaunchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_task_launches_total",
			Help: "Total number of tasks launched",
		},
	)

	// Accept/decline pipeline metrics
	AcceptOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "master_accept_operations_total",
			Help: "Total number of operations processed from Accept calls, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Rate limiting metrics
	RateLimitDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "master_rate_limit_drops_total",
			Help: "Total number of messages dropped for exceeding a principal's rate-limit queue capacity",
		},
		[]string{"principal"},
	)

	// Registry/raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "master_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RegistryAdmittedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "master_registry_admitted_total",
			Help: "Number of agents currently admitted in the durable registry",
		},
	)

	RegistryUnreachableTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "master_registry_unreachable_total",
			Help: "Number of agents currently in the durable registry's unreachable list",
		},
	)

	RegistryCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "master_registry_commit_duration_seconds",
			Help:    "Time taken for a registry operation to commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegistryGCCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_registry_gc_cycles_total",
			Help: "Total number of registry garbage-collection cycles completed",
		},
	)

	// Allocator metrics
	AllocationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "master_allocation_cycle_duration_seconds",
			Help:    "Time taken for one allocator offer pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Subscriber fan-out metrics
	SubscribersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "master_subscribers_connected",
			Help: "Number of connected operator event-stream subscribers",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "master_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "master_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(AgentUnreachableTotal)
	prometheus.MustRegister(FrameworksTotal)
	prometheus.MustRegister(FrameworkFailoversTotal)
	prometheus.MustRegister(OffersOutstanding)
	prometheus.MustRegister(OffersSentTotal)
	prometheus.MustRegister(OffersRescindedTotal)
	prometheus.MustRegister(OffersExpiredTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskLaunchesTotal)
	prometheus.MustRegister(AcceptOperationsTotal)
	prometheus.MustRegister(RateLimitDropsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RegistryAdmittedTotal)
	prometheus.MustRegister(RegistryUnreachableTotal)
	prometheus.MustRegister(RegistryCommitDuration)
	prometheus.MustRegister(RegistryGCCyclesTotal)
	prometheus.MustRegister(AllocationCycleDuration)
	prometheus.MustRegister(SubscribersConnected)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
