package simple

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator"
	"github.com/cuemby/clustermaster/pkg/log"
	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/rs/zerolog"
)

const defaultOfferInterval = time.Second

// frameworkState is the allocator's own bookkeeping for a framework; it
// mirrors a subset of types.Framework but is kept independently since the
// allocator is meant to be swappable for one that doesn't share the
// master's memory at all.
type frameworkState struct {
	info       types.FrameworkInfo
	active     bool
	suppressed bool
}

type agentState struct {
	info            types.AgentInfo
	capabilities    allocator.AgentCapabilities
	unavailability  *types.Unavailability
	total           types.Resources
	usedByFramework map[types.FrameworkID]types.Resources
	offered         types.Resources
	active          bool
}

func (a *agentState) usedTotal() types.Resources {
	total := types.Resources{}
	for _, r := range a.usedByFramework {
		total = total.Add(r)
	}
	return total
}

func (a *agentState) free() types.Resources {
	return a.total.Subtract(a.usedTotal()).Subtract(a.offered)
}

// Allocator is a weighted round-robin bin-packer: on every tick it walks
// frameworks in descending role-weight order and, for each framework the
// allocator's role whitelist (if any) admits, offers the free resources of
// every active agent, favoring agents with the least already offered.
type Allocator struct {
	mu     sync.Mutex
	logger zerolog.Logger

	frameworks map[types.FrameworkID]*frameworkState
	agents     map[types.AgentID]*agentState
	roles      map[string]struct{}
	weights    map[string]float64
	quotas     map[string]types.Resources

	flags                allocator.Flags
	offerCallback        allocator.OfferCallback
	inverseOfferCallback allocator.InverseOfferCallback

	stopCh chan struct{}
}

// New constructs an Allocator. Initialize must still be called before it
// starts making offers.
func New() *Allocator {
	return &Allocator{
		logger:     log.WithComponent("allocator"),
		frameworks: make(map[types.FrameworkID]*frameworkState),
		agents:     make(map[types.AgentID]*agentState),
		roles:      make(map[string]struct{}),
		weights:    make(map[string]float64),
		quotas:     make(map[string]types.Resources),
		stopCh:     make(chan struct{}),
	}
}

func (a *Allocator) Initialize(flags allocator.Flags, offerCallback allocator.OfferCallback, inverseOfferCallback allocator.InverseOfferCallback) error {
	a.mu.Lock()
	a.flags = flags
	a.offerCallback = offerCallback
	a.inverseOfferCallback = inverseOfferCallback
	for _, role := range flags.RoleWhitelist {
		a.roles[role] = struct{}{}
	}
	for role, w := range flags.Weights {
		a.weights[role] = w
	}
	a.mu.Unlock()

	go a.run()
	return nil
}

// Stop ends the allocation loop and releases its goroutine. It is not part
// of the Allocator interface; neither Master.Stop nor cmd/master calls it.
func (a *Allocator) Stop() {
	close(a.stopCh)
}

func (a *Allocator) run() {
	interval := a.flags.OfferInterval
	if interval <= 0 {
		interval = defaultOfferInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.allocate()
		case <-a.stopCh:
			return
		}
	}
}

// allocate runs one allocation pass: every active, non-suppressed
// framework the allocator's role whitelist admits is offered the free
// resources of every active agent, in descending weight order.
func (a *Allocator) allocate() {
	timer := metrics.NewTimer()
	a.mu.Lock()
	defer a.mu.Unlock()

	frameworkIDs := a.orderedFrameworks()
	agentIDs := a.orderedAgents()

	for _, fid := range frameworkIDs {
		fw := a.frameworks[fid]
		if !fw.active || fw.suppressed {
			continue
		}

		bundles := make(map[types.AgentID]types.Resources)
		for _, aid := range agentIDs {
			ag := a.agents[aid]
			if !ag.active || a.isUnavailableNow(ag) {
				continue
			}
			if !a.roleAdmits(fw, aid, ag) {
				continue
			}
			free := ag.free()
			if len(free) == 0 {
				continue
			}
			bundles[aid] = free
			ag.offered = ag.offered.Add(free)
		}

		if len(bundles) == 0 {
			continue
		}
		metrics.OffersSentTotal.Add(float64(len(bundles)))
		a.offerCallback(fid, bundles)
	}

	timer.ObserveDuration(metrics.AllocationCycleDuration)
}

// isUnavailableNow reports whether an agent's scheduled maintenance window
// is active, in which case it is skipped for ordinary offers.
func (a *Allocator) isUnavailableNow(ag *agentState) bool {
	if ag.unavailability == nil {
		return false
	}
	now := time.Now()
	end := ag.unavailability.Start.Add(ag.unavailability.Duration)
	return !now.Before(ag.unavailability.Start) && now.Before(end)
}

// roleAdmits reports whether the framework may receive this agent's
// resources under the allocator's role whitelist: an empty whitelist
// admits everyone, otherwise at least one of the framework's roles must
// be whitelisted.
func (a *Allocator) roleAdmits(fw *frameworkState, _ types.AgentID, _ *agentState) bool {
	if len(a.roles) == 0 {
		return true
	}
	for _, role := range fw.info.Roles {
		if _, ok := a.roles[role]; ok {
			return true
		}
	}
	return false
}

// orderedFrameworks returns framework ids sorted by descending first-role
// weight, falling back to ascending id for determinism.
func (a *Allocator) orderedFrameworks() []types.FrameworkID {
	ids := make([]types.FrameworkID, 0, len(a.frameworks))
	for id := range a.frameworks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		wi := a.primaryWeight(a.frameworks[ids[i]])
		wj := a.primaryWeight(a.frameworks[ids[j]])
		if wi != wj {
			return wi > wj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (a *Allocator) primaryWeight(fw *frameworkState) float64 {
	if len(fw.info.Roles) == 0 {
		return 1.0
	}
	if w, ok := a.weights[fw.info.Roles[0]]; ok {
		return w
	}
	return 1.0
}

// orderedAgents returns agent ids sorted by ascending currently-offered
// scalar load, so the lightest-loaded agents are considered first — the
// same "fewest active units" preference the load balancer this allocator
// is adapted from used for node selection.
func (a *Allocator) orderedAgents() []types.AgentID {
	ids := make([]types.AgentID, 0, len(a.agents))
	for id := range a.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		li := scalarLoad(a.agents[ids[i]].offered)
		lj := scalarLoad(a.agents[ids[j]].offered)
		if li != lj {
			return li < lj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func scalarLoad(r types.Resources) float64 {
	total := 0.0
	for _, q := range r {
		if q.Kind == types.ScalarQuantity {
			total += q.Scalar
		}
	}
	return total
}

func (a *Allocator) AddFramework(id types.FrameworkID, info types.FrameworkInfo, suppressedRoles []string, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frameworks[id] = &frameworkState{
		info:       info,
		active:     active,
		suppressed: len(suppressedRoles) > 0,
	}
}

func (a *Allocator) RemoveFramework(id types.FrameworkID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.frameworks, id)
	for _, ag := range a.agents {
		delete(ag.usedByFramework, id)
	}
}

func (a *Allocator) ActivateFramework(id types.FrameworkID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fw, ok := a.frameworks[id]; ok {
		fw.active = true
	}
}

func (a *Allocator) DeactivateFramework(id types.FrameworkID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fw, ok := a.frameworks[id]; ok {
		fw.active = false
	}
}

func (a *Allocator) AddAgent(id types.AgentID, info types.AgentInfo, capabilities allocator.AgentCapabilities, unavailability *types.Unavailability, total types.Resources, usedByFramework map[types.FrameworkID]types.Resources) {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := make(map[types.FrameworkID]types.Resources, len(usedByFramework))
	for fid, r := range usedByFramework {
		used[fid] = r
	}
	a.agents[id] = &agentState{
		info:            info,
		capabilities:    capabilities,
		unavailability:  unavailability,
		total:           total,
		usedByFramework: used,
		offered:         types.Resources{},
		active:          true,
	}
}

func (a *Allocator) RemoveAgent(id types.AgentID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.agents, id)
}

func (a *Allocator) ActivateAgent(id types.AgentID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ag, ok := a.agents[id]; ok {
		ag.active = true
	}
}

func (a *Allocator) DeactivateAgent(id types.AgentID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ag, ok := a.agents[id]; ok {
		ag.active = false
	}
}

func (a *Allocator) UpdateAgent(id types.AgentID, total types.Resources) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ag, ok := a.agents[id]; ok {
		ag.total = total
	}
}

func (a *Allocator) UpdateUnavailability(id types.AgentID, unavailability *types.Unavailability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ag, ok := a.agents[id]; ok {
		ag.unavailability = unavailability
	}
}

func (a *Allocator) AddRole(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles[name] = struct{}{}
}

func (a *Allocator) RemoveRole(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.roles, name)
	delete(a.weights, name)
	delete(a.quotas, name)
}

func (a *Allocator) UpdateWeights(weights map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for role, w := range weights {
		a.weights[role] = w
	}
}

func (a *Allocator) SetQuota(role string, guarantee types.Resources) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotas[role] = guarantee
}

func (a *Allocator) RemoveQuota(role string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.quotas, role)
}

// UpdateAllocation folds a framework's accepted operations into the
// allocator's usage accounting: launched task and executor resources and
// RESERVE resources move from "offered" into the framework's "used";
// UNRESERVE subtracts its resources from the agent's total and from the
// amount moved; CREATE and DESTROY change nothing here.
func (a *Allocator) UpdateAllocation(framework types.FrameworkID, agent types.AgentID, operations []types.Operation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ag, ok := a.agents[agent]
	if !ok {
		return
	}

	consumed := types.Resources{}
	for _, op := range operations {
		switch op.Kind {
		case types.OpLaunch:
			if op.TaskInfo != nil {
				consumed = consumed.Add(op.TaskInfo.Resources).Add(op.TaskInfo.ExecutorRes)
			}
		case types.OpLaunchGroup:
			for _, ti := range op.TaskInfos {
				consumed = consumed.Add(ti.Resources).Add(ti.ExecutorRes)
			}
		case types.OpReserve:
			consumed = consumed.Add(op.Resources)
		case types.OpUnreserve:
			ag.total = ag.total.Subtract(op.Resources)
			consumed = consumed.Subtract(op.Resources)
		case types.OpCreate, types.OpDestroy:
			// Persistent volume bookkeeping is storage-layer, not
			// allocator-visible capacity; no adjustment here.
		}
	}

	ag.offered = ag.offered.Subtract(consumed)
	existing := ag.usedByFramework[framework]
	ag.usedByFramework[framework] = existing.Add(consumed)
}

// RecoverResources returns previously-offered resources to the free pool.
// filters is accepted for interface conformance; this reference
// implementation has no refuse-seconds backoff bookkeeping.
func (a *Allocator) RecoverResources(framework types.FrameworkID, agent types.AgentID, resources types.Resources, filters types.Filters) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = framework
	_ = filters

	ag, ok := a.agents[agent]
	if !ok {
		return
	}
	ag.offered = ag.offered.Subtract(resources)
}

func (a *Allocator) SuppressOffers(framework types.FrameworkID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fw, ok := a.frameworks[framework]; ok {
		fw.suppressed = true
	}
}

func (a *Allocator) ReviveOffers(framework types.FrameworkID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fw, ok := a.frameworks[framework]; ok {
		fw.suppressed = false
	}
}

var _ allocator.Allocator = (*Allocator)(nil)
