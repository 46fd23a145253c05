package allocator

import (
	"time"

	"github.com/cuemby/clustermaster/pkg/types"
)

// OfferCallback is invoked by the allocator, on its own goroutine, whenever
// it has decided to extend a resource offer to a framework. bundles is
// keyed by the agent the resources are drawn from.
type OfferCallback func(framework types.FrameworkID, bundles map[types.AgentID]types.Resources)

// InverseOfferCallback is the symmetric callback for requesting that a
// framework release resources ahead of a maintenance window.
type InverseOfferCallback func(framework types.FrameworkID, bundles map[types.AgentID]types.InverseOffer)

// Flags carries the subset of master configuration the allocator needs to
// initialize itself (offer sizing, batching interval, role whitelist).
type Flags struct {
	RoleWhitelist    []string
	Weights          map[string]float64
	OfferInterval    time.Duration
	MaxOffersPerType int
}

// AgentCapabilities describes agent-advertised features relevant to
// allocation decisions (e.g. whether it supports reservation refinement).
type AgentCapabilities struct {
	Revocable     bool
	MultiRole     bool
	ReservationV2 bool
}

// Allocator is the master's pluggable resource-allocation collaborator.
// Every method runs to completion synchronously from the
// master actor's perspective; the only asynchrony is the allocator calling
// back into OfferCallback/InverseOfferCallback on its own schedule.
type Allocator interface {
	// Initialize wires the allocator to the master's offer callbacks. Must
	// be called exactly once, before any other method.
	Initialize(flags Flags, offerCallback OfferCallback, inverseOfferCallback InverseOfferCallback) error

	AddFramework(id types.FrameworkID, info types.FrameworkInfo, suppressedRoles []string, active bool)
	RemoveFramework(id types.FrameworkID)
	ActivateFramework(id types.FrameworkID)
	DeactivateFramework(id types.FrameworkID)

	// AddAgent informs the allocator of a newly registered (or recovered)
	// agent: its total resources and any resources already used by
	// frameworks at the time of admission (e.g. on master failover).
	AddAgent(id types.AgentID, info types.AgentInfo, capabilities AgentCapabilities, unavailability *types.Unavailability, total types.Resources, usedByFramework map[types.FrameworkID]types.Resources)
	RemoveAgent(id types.AgentID)
	ActivateAgent(id types.AgentID)
	DeactivateAgent(id types.AgentID)
	UpdateAgent(id types.AgentID, total types.Resources)
	UpdateUnavailability(id types.AgentID, unavailability *types.Unavailability)

	AddRole(name string)
	RemoveRole(name string)
	UpdateWeights(weights map[string]float64)
	SetQuota(role string, guarantee types.Resources)
	RemoveQuota(role string)

	// UpdateAllocation informs the allocator that a framework's accepted
	// operations have changed what is used on an agent; the allocator
	// updates its own per-(framework,agent) accounting accordingly.
	UpdateAllocation(framework types.FrameworkID, agent types.AgentID, operations []types.Operation)

	// RecoverResources returns unused offer remnants (decline, rescind,
	// expire, or plain leftover after Accept) to the free pool, subject to
	// filters (e.g. refuse-seconds before re-offering to the same framework).
	RecoverResources(framework types.FrameworkID, agent types.AgentID, resources types.Resources, filters types.Filters)

	SuppressOffers(framework types.FrameworkID)
	ReviveOffers(framework types.FrameworkID)
}
