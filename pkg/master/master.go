package master

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator"
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/log"
	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/cuemby/clustermaster/pkg/ratelimit"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// continuation is a unit of work queued onto the actor's inbox. Every
// public Master method does its suspension-point waiting (authn, authz,
// registry commit, allocator round-trip) on its own goroutine and submits
// exactly one continuation back into the actor once everything it needs is
// resolved.
type continuation func(m *Master)

// Master is the single-actor cluster master (see package doc).
type Master struct {
	cfg Config

	registry  *registry.Client
	allocator allocator.Allocator
	authn     authz.Authenticator
	authz     authz.Authorizer
	limiter   *ratelimit.Limiter
	broker    *events.Broker

	logger zerolog.Logger

	inbox  chan continuation
	stopCh chan struct{}
	wg     sync.WaitGroup

	// selfID prefixes every assigned AgentId/FrameworkId, per types.AgentID's
	// doc comment on collision-avoidance across a cluster's history.
	selfID string

	// All fields below this point are only ever touched from the actor
	// goroutine (run). No other goroutine may read or write them directly;
	// everything else goes through a continuation.
	agents      map[types.AgentID]*types.Agent
	frameworks  map[types.FrameworkID]*types.Framework
	offers      map[types.OfferID]*types.Offer
	inverse     map[types.OfferID]*types.InverseOffer
	roles       map[string]*types.Role
	quotas      map[string]types.Quota
	weights     map[string]float64
	machines    map[types.MachineID]*types.Machine
	completed   []*types.Framework
	offerTimers map[types.OfferID]*time.Timer

	// agentDisconnectedAt/frameworkDisconnectedAt record when a transport
	// closed, for housekeeping's timeout sweeps; kept outside types.Agent/
	// types.Framework since they are master bookkeeping, not durable or
	// agent-visible state.
	agentDisconnectedAt     map[types.AgentID]time.Time
	frameworkDisconnectedAt map[types.FrameworkID]time.Time

	// agentSinks carries the narrow message-sending surface for each
	// connected agent (RunTask/KillTask/CheckpointResources), the agent-side
	// analog of Framework.Transport.Writer.
	agentSinks map[types.AgentID]types.MessageSink

	// removed is the LRU-bounded tombstone cache of administratively removed
	// agent ids: a re-registration naming an id in this
	// cache is explicitly refused rather than treated as unknown.
	removed *lru.Cache
}

// New constructs a Master. Start must be called before it processes any
// work.
func New(cfg Config, reg *registry.Client, alloc allocator.Allocator, authn authz.Authenticator, az authz.Authorizer, limiter *ratelimit.Limiter, broker *events.Broker, selfID string) *Master {
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	roles := make(map[string]*types.Role, len(cfg.RoleWhitelist))
	for _, r := range cfg.RoleWhitelist {
		roles[r] = &types.Role{Name: r, Frameworks: make(map[types.FrameworkID]struct{})}
	}

	return &Master{
		cfg:         cfg,
		registry:    reg,
		allocator:   alloc,
		authn:       authn,
		authz:       az,
		limiter:     limiter,
		broker:      broker,
		logger:      log.WithComponent("master"),
		inbox:       make(chan continuation, 1024),
		stopCh:      make(chan struct{}),
		selfID:      selfID,
		agents:      make(map[types.AgentID]*types.Agent),
		frameworks:  make(map[types.FrameworkID]*types.Framework),
		offers:      make(map[types.OfferID]*types.Offer),
		inverse:     make(map[types.OfferID]*types.InverseOffer),
		roles:       roles,
		quotas:      make(map[string]types.Quota),
		weights:     weights,
		machines:    make(map[types.MachineID]*types.Machine),
		offerTimers: make(map[types.OfferID]*time.Timer),

		agentDisconnectedAt:     make(map[types.AgentID]time.Time),
		frameworkDisconnectedAt: make(map[types.FrameworkID]time.Time),
		agentSinks:              make(map[types.AgentID]types.MessageSink),
		removed:                 newRemovedCache(cfg.RemovedAgentCacheSize),
	}
}

// newRemovedCache builds the bounded removed-agent tombstone cache. Falls
// back to a sane default size rather than propagating an error from New,
// since a non-positive configured size is a config mistake, not something
// that should prevent the master from starting.
func newRemovedCache(size int) *lru.Cache {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		c, _ = lru.New(1024)
	}
	return c
}

// Start recovers durable state and begins the actor loop plus the
// housekeeping ticker.
func (m *Master) Start() error {
	state, err := m.registry.Recover().Await()
	if err != nil {
		return fmt.Errorf("failed to recover registry state: %w", err)
	}

	if err := m.allocator.Initialize(allocator.Flags{
		RoleWhitelist: m.cfg.RoleWhitelist,
		Weights:       m.cfg.Weights,
	}, m.onOffer, m.onInverseOffer); err != nil {
		return fmt.Errorf("failed to initialize allocator: %w", err)
	}

	for id, info := range state.Admitted {
		m.agents[id] = newRecoveredAgent(info)
		m.allocator.AddAgent(id, info, allocator.AgentCapabilities{}, nil, info.Resources, nil)
	}

	m.wg.Add(2)
	go m.run()
	go m.runHousekeeping()

	m.logger.Info().Int("recovered_agents", len(state.Admitted)).Msg("master started")
	return nil
}

// Stop drains the actor loop and housekeeping ticker.
func (m *Master) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Master) run() {
	defer m.wg.Done()
	for {
		select {
		case cont := <-m.inbox:
			cont(m)
		case <-m.stopCh:
			return
		}
	}
}

// submit enqueues a continuation. Safe to call from any goroutine.
func (m *Master) submit(cont continuation) {
	select {
	case m.inbox <- cont:
	case <-m.stopCh:
	}
}

func newRecoveredAgent(info types.AgentInfo) *types.Agent {
	return &types.Agent{
		Info:             info,
		TotalResources:   info.Resources,
		Connected:        false,
		Active:           false,
		State:            types.AgentRecovered,
		Tasks:            make(map[types.FrameworkID]map[types.TaskID]*types.Task),
		Executors:        make(map[types.FrameworkID]map[types.ExecutorID]*types.Executor),
		PendingTasks:     make(map[types.FrameworkID]map[types.TaskID]*types.Task),
		KilledTasks:      make(map[types.FrameworkID]map[types.TaskID]struct{}),
		Offers:           make(map[types.OfferID]struct{}),
		InverseOffers:    make(map[types.OfferID]struct{}),
		UsedResources:    make(map[types.FrameworkID]types.Resources),
		OfferedResources: types.Resources{},
	}
}

func newAgentID(selfID string) types.AgentID {
	return types.AgentID(selfID + "-" + uuid.New().String())
}

func newFrameworkID(selfID string) types.FrameworkID {
	return types.FrameworkID(selfID + "-" + uuid.New().String())
}

func newOfferID() types.OfferID {
	return types.OfferID(uuid.New().String())
}

func newTaskUUID() string {
	return uuid.New().String()
}

// publish is a small helper so every handler publishes through the same
// nil-safe path (a Master built without a broker, e.g. in a unit test, is
// still safe to drive).
func (m *Master) publish(evtType events.EventType, message string, metadata map[string]string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: evtType, Message: message, Metadata: metadata})
}

// --- metrics.StateProvider ---

// AgentCountsByState implements metrics.StateProvider. It is called from
// the metrics collector's own goroutine, so it is answered via a
// continuation round-trip like any other cross-actor read.
func (m *Master) AgentCountsByState() map[string]int {
	return m.syncStateQuery(func(m *Master) map[string]int {
		counts := make(map[string]int)
		for _, a := range m.agents {
			counts[string(a.State)]++
		}
		return counts
	})
}

func (m *Master) FrameworkCountsByState() map[string]int {
	return m.syncStateQuery(func(m *Master) map[string]int {
		counts := make(map[string]int)
		for _, f := range m.frameworks {
			counts[string(f.State)]++
		}
		return counts
	})
}

func (m *Master) TaskCountsByState() map[string]int {
	return m.syncStateQuery(func(m *Master) map[string]int {
		counts := make(map[string]int)
		for _, a := range m.agents {
			for _, byTask := range a.Tasks {
				for _, t := range byTask {
					counts[string(t.State)]++
				}
			}
		}
		return counts
	})
}

func (m *Master) OffersOutstanding() int {
	return m.syncIntQuery(func(m *Master) int { return len(m.offers) })
}

// IsLeader reports whether this master currently holds registry leadership.
// Safe to call from any goroutine; it never touches actor state directly.
func (m *Master) IsLeader() bool {
	return m.registry.IsLeader()
}

func (m *Master) SubscribersConnected() int {
	if m.broker == nil {
		return 0
	}
	return m.broker.SubscriberCount()
}

// syncStateQuery runs fn inside the actor and blocks the caller until it
// completes. Reserved for read-only metrics/introspection queries, never
// for anything that mutates state on a caller's behalf outside the normal
// continuation path.
func (m *Master) syncStateQuery(fn func(m *Master) map[string]int) map[string]int {
	result, resolve := future.New[map[string]int]()
	m.submit(func(m *Master) {
		resolve(fn(m), nil)
	})
	v, _ := result.Await()
	return v
}

func (m *Master) syncIntQuery(fn func(m *Master) int) int {
	result, resolve := future.New[int]()
	m.submit(func(m *Master) {
		resolve(fn(m), nil)
	})
	v, _ := result.Await()
	return v
}

var _ metrics.StateProvider = (*Master)(nil)
