package metrics

import "time"

// StateProvider is the read-only view the collector needs to periodically
// snapshot gauges that the master doesn't update inline on every mutation.
// pkg/master implements this against its own actor state; the collector
// never reaches into master internals directly, injecting the long-lived
// owner rather than polling its fields.
type StateProvider interface {
	// AgentCountsByState returns the number of agents per lifecycle state.
	AgentCountsByState() map[string]int
	// FrameworkCountsByState returns the number of frameworks per lifecycle state.
	FrameworkCountsByState() map[string]int
	// TaskCountsByState returns the number of tasks per state.
	TaskCountsByState() map[string]int
	// OffersOutstanding returns the number of offers currently in the ledger.
	OffersOutstanding() int
	// SubscribersConnected returns the number of connected event-stream subscribers.
	SubscribersConnected() int
}

// RegistryProvider is the read-only view the collector needs for the durable
// registry's gauges.
type RegistryProvider interface {
	IsLeader() bool
	AdmittedCount() int
	UnreachableCount() int
}

// Collector periodically snapshots master and registry state into the
// package's gauges, for state that isn't naturally updated inline at the
// point of mutation (e.g. aggregate counts by state).
type Collector struct {
	state    StateProvider
	registry RegistryProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a Collector. interval defaults to 15s when zero.
func NewCollector(state StateProvider, registry RegistryProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		state:    state,
		registry: registry,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgentMetrics()
	c.collectFrameworkMetrics()
	c.collectTaskMetrics()
	c.collectOfferMetrics()
	c.collectSubscriberMetrics()
	c.collectRegistryMetrics()
}

func (c *Collector) collectAgentMetrics() {
	for state, count := range c.state.AgentCountsByState() {
		AgentsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectFrameworkMetrics() {
	for state, count := range c.state.FrameworkCountsByState() {
		FrameworksTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	for state, count := range c.state.TaskCountsByState() {
		TasksTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectOfferMetrics() {
	OffersOutstanding.Set(float64(c.state.OffersOutstanding()))
}

func (c *Collector) collectSubscriberMetrics() {
	SubscribersConnected.Set(float64(c.state.SubscribersConnected()))
}

func (c *Collector) collectRegistryMetrics() {
	if c.registry == nil {
		return
	}

	if c.registry.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	RegistryAdmittedTotal.Set(float64(c.registry.AdmittedCount()))
	RegistryUnreachableTotal.Set(float64(c.registry.UnreachableCount()))
}
