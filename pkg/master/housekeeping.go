package master

import (
	"sort"
	"time"

	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/cuemby/clustermaster/pkg/types"
)

// housekeepingInterval governs how often the background sweeps below run.
// It is independent of any one timeout's own duration — both the
// agent-reregister and framework-failover windows are evaluated against
// wall-clock timestamps recorded at disconnect, not against a dedicated
// per-entity timer, so a single shared ticker is enough.
const housekeepingInterval = 5 * time.Second

// runHousekeeping drives the three periodic sweeps background timers own:
// registry garbage collection, the agent re-registration timeout, and the
// framework failover timeout. It runs on its own goroutine and only ever
// reaches master state
// through the same submit/continuation path every other suspension point
// uses.
func (m *Master) runHousekeeping() {
	defer m.wg.Done()

	sweepTicker := time.NewTicker(housekeepingInterval)
	defer sweepTicker.Stop()

	gcInterval := m.cfg.RegistryGCInterval
	if gcInterval <= 0 {
		gcInterval = 5 * time.Minute
	}
	gcTicker := time.NewTicker(gcInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-sweepTicker.C:
			m.sweepTimeouts()
		case <-gcTicker.C:
			m.runRegistryGC()
		case <-m.stopCh:
			return
		}
	}
}

// sweepTimeouts checks every disconnected agent/framework against its
// configured timeout and fires the appropriate compensating action. A timer
// firing never cancels any in-flight future; it only ever submits an
// idempotent action.
func (m *Master) sweepTimeouts() {
	now := time.Now()

	m.submit(func(m *Master) {
		reregisterTimeout := m.cfg.AgentReregisterTimeout
		for id, at := range m.agentDisconnectedAt {
			if reregisterTimeout > 0 && now.Sub(at) >= reregisterTimeout {
				if m.limiter != nil {
					if allowed, _ := m.limiter.Admit("agent-unreachable-sweep"); !allowed {
						continue
					}
				}
				delete(m.agentDisconnectedAt, id)
				m.promoteUnreachableLocked(id)
			}
		}

		failoverTimeout := m.cfg.FrameworkFailoverTimeout
		for id, at := range m.frameworkDisconnectedAt {
			fw, ok := m.frameworks[id]
			if !ok {
				delete(m.frameworkDisconnectedAt, id)
				continue
			}
			timeout := fw.Info.FailoverTimeout
			if timeout <= 0 {
				timeout = failoverTimeout
			}
			if now.Sub(at) >= timeout {
				m.teardownLocked(id)
				metrics.FrameworkFailoversTotal.Inc()
			}
		}
	})
}

// runRegistryGC selects unreachable agents for pruning by count cap
// (registry_max_agent_count) and age cap (registry_max_agent_age), submits
// PruneUnreachable, and on commit evicts the same ids from the in-memory
// unreachable view.
func (m *Master) runRegistryGC() {
	state, err := m.registry.Recover().Await()
	if err != nil {
		m.logger.Warn().Err(err).Msg("registry GC: failed to read current state")
		return
	}

	now := time.Now()
	maxAge := m.cfg.RegistryMaxAgentAge
	maxCount := m.cfg.MaxUnreachableAgents

	type candidate struct {
		id types.AgentID
		at time.Time
	}
	candidates := make([]candidate, 0, len(state.Unreachable))
	for id, at := range state.Unreachable {
		candidates = append(candidates, candidate{id: id, at: at})
	}

	var prune []types.AgentID
	for _, c := range candidates {
		if maxAge > 0 && now.Sub(c.at) >= maxAge {
			prune = append(prune, c.id)
		}
	}
	if maxCount > 0 && len(state.Unreachable) > maxCount {
		// Oldest-first beyond the cap, skipping ids already selected by age.
		excess := len(state.Unreachable) - maxCount
		sorted := append([]candidate{}, candidates...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].at.Before(sorted[j].at) })
		already := make(map[types.AgentID]bool, len(prune))
		for _, id := range prune {
			already[id] = true
		}
		for _, c := range sorted {
			if excess <= 0 {
				break
			}
			if already[c.id] {
				continue
			}
			prune = append(prune, c.id)
			already[c.id] = true
			excess--
		}
	}

	if len(prune) == 0 {
		metrics.RegistryGCCyclesTotal.Inc()
		return
	}

	changed, err := m.registry.Apply(registry.PruneUnreachable{IDs: prune}).Await()
	if err != nil {
		m.logger.Warn().Err(err).Msg("registry GC: prune commit failed")
		return
	}
	metrics.RegistryGCCyclesTotal.Inc()
	if !changed {
		return
	}

	m.submit(func(m *Master) {
		for _, id := range prune {
			if agent, ok := m.agents[id]; ok && agent.State == types.AgentUnreachable {
				delete(m.agents, id)
			}
		}
	})
}

