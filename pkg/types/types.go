package types

import (
	"fmt"
	"time"
)

// AgentID identifies an agent across the cluster's lifetime. It is assigned by
// the master on first admission and is prefixed with the master's own id so
// that collisions across a cluster's history are negligible.
type AgentID string

// FrameworkID identifies a framework. Assigned by the master at first
// registration and stable across re-registrations and failover.
type FrameworkID string

// TaskID identifies a task within a framework.
type TaskID string

// ExecutorID identifies a long-lived task host on an agent.
type ExecutorID string

// OfferID identifies an outstanding resource offer.
type OfferID string

// MachineID identifies a physical or logical host by hostname and IP, used
// for maintenance scheduling independent of any one agent incarnation.
type MachineID struct {
	Hostname string
	IP       string
}

func (m MachineID) String() string { return fmt.Sprintf("%s(%s)", m.Hostname, m.IP) }

// AgentInfo is the durable, registry-facing description of an agent: the
// subset of Agent state that must survive master failover via the registry.
// It intentionally excludes in-memory-only bookkeeping such as offers,
// tasks and connection state.
type AgentInfo struct {
	ID                    AgentID
	Hostname              string
	Address               string
	Port                  int32
	Resources             Resources
	CheckpointedResources Resources
	Attributes            map[string]string
	Version               string
}

// AgentLifecycleState is the coarse phase of the agent state machine.
type AgentLifecycleState string

const (
	AgentRecovered     AgentLifecycleState = "recovered"
	AgentRegistering   AgentLifecycleState = "registering"
	AgentReregistering AgentLifecycleState = "reregistering"
	AgentRegistered    AgentLifecycleState = "registered"
	AgentDisconnected  AgentLifecycleState = "disconnected"
	AgentUnreachable   AgentLifecycleState = "unreachable"
	AgentRemoved       AgentLifecycleState = "removed"
)

// Agent is the in-memory representation of a worker node.
type Agent struct {
	Info AgentInfo

	// TotalResources is set from Info.Resources when the master adds the
	// agent; accepted RESERVE/UNRESERVE/CREATE/DESTROY operations do not
	// change it.
	TotalResources Resources

	// Connected is transport-level liveness; Active is policy-level
	// eligibility to receive offers. Both must hold for AgentRegistered.
	Connected bool
	Active    bool

	State AgentLifecycleState

	// Tasks, Executors and PendingTasks are keyed first by framework, then
	// by task/executor id. KilledTasks records ids the master has already
	// told this agent to kill, for reconciliation on re-registration.
	Tasks        map[FrameworkID]map[TaskID]*Task
	Executors    map[FrameworkID]map[ExecutorID]*Executor
	PendingTasks map[FrameworkID]map[TaskID]*Task
	KilledTasks  map[FrameworkID]map[TaskID]struct{}

	// Offers and InverseOffers are the sets of outstanding offer/inverse-
	// offer ids this agent's resources are currently promised under.
	Offers        map[OfferID]struct{}
	InverseOffers map[OfferID]struct{}

	// UsedResources is keyed by framework; OfferedResources is a single
	// running counter (an agent's outstanding offers are not partitioned by
	// framework the way used resources are, since any one offer already
	// belongs to exactly one framework via the offer ledger).
	UsedResources    map[FrameworkID]Resources
	OfferedResources Resources

	RegisteredAt   time.Time
	ReregisteredAt time.Time
}

// UsedTotal sums UsedResources across every framework on this agent.
func (a *Agent) UsedTotal() Resources {
	total := Resources{}
	for _, r := range a.UsedResources {
		total = total.Add(r)
	}
	return total
}

// FrameworkInfo is what a framework declares at (re)registration.
type FrameworkInfo struct {
	ID              FrameworkID
	Name            string
	Principal       string
	Roles           []string
	FailoverTimeout time.Duration
	WebUIURL        string
	Capabilities    []string
}

// FrameworkLifecycleState is the coarse phase of the framework state machine.
type FrameworkLifecycleState string

const (
	FrameworkUnregistered    FrameworkLifecycleState = "unregistered"
	FrameworkRegistered      FrameworkLifecycleState = "registered"
	FrameworkDisconnected    FrameworkLifecycleState = "disconnected"
	FrameworkInactive        FrameworkLifecycleState = "inactive"
	FrameworkFailoverPending FrameworkLifecycleState = "failover-pending"
	FrameworkCompleted       FrameworkLifecycleState = "completed"
)

// TransportKind distinguishes the two connection shapes a framework may use;
// exactly one of the corresponding fields on Transport is populated at a
// time.
type TransportKind int

const (
	TransportNone TransportKind = iota
	TransportPID
	TransportHTTPStream
)

// Transport is the tagged variant modeling a framework's connection. Upgrade
// or downgrade between kinds replaces the whole value; any owned heartbeater
// is torn down by the caller before installing a new Transport.
type Transport struct {
	Kind TransportKind

	// PIDAddress is set when Kind == TransportPID: a bare message-passing
	// endpoint with no HTTP framing.
	PIDAddress string

	// StreamID and Writer are set when Kind == TransportHTTPStream. Writer is
	// an opaque sink the caller pushes framed messages into; its concrete
	// type lives outside this package; it is an external HTTP collaborator.
	StreamID string
	Writer   MessageSink

	// Heartbeater, when non-nil, is stopped whenever this Transport is
	// replaced or torn down. Only ever set for TransportHTTPStream.
	Heartbeater func()
}

// MessageSink is the narrow write surface a Transport needs; it is satisfied
// by whatever streaming HTTP writer or message-passing socket the transport
// layer provides.
type MessageSink interface {
	Send(v interface{}) error
}

// Framework is the in-memory representation of a scheduler.
type Framework struct {
	Info  FrameworkInfo
	State FrameworkLifecycleState

	Transport Transport

	Connected bool
	Active    bool

	RegisteredAt   time.Time
	ReregisteredAt time.Time

	Tasks         map[TaskID]*Task
	PendingTasks  map[TaskID]*Task
	CompletedRing []*Task // bounded FIFO; eviction policy lives in the master

	ExecutorsByAgent map[AgentID]map[ExecutorID]*Executor

	Offers        map[OfferID]struct{}
	InverseOffers map[OfferID]struct{}

	// UsedResources/OfferedResources are per-agent; TotalUsed is a derived
	// helper, never a single pre-summed field.
	UsedResources    map[AgentID]Resources
	OfferedResources map[AgentID]Resources
}

// TotalUsed sums UsedResources across every agent for this framework. Callers
// needing per-kind correctness for set/range resources should prefer the
// per-agent view; this helper is for scalar reporting (e.g. cpus, mem) only.
func (f *Framework) TotalUsed() Resources {
	total := Resources{}
	for _, r := range f.UsedResources {
		total = total.Add(r)
	}
	return total
}

// Offer is an immutable bundle handed to exactly one framework for exactly
// one agent's resources, for a bounded time.
type Offer struct {
	ID          OfferID
	FrameworkID FrameworkID
	AgentID     AgentID
	Resources   Resources
	ExpiresAt   time.Time // zero if no offer_timeout configured
}

// InverseOffer is the symmetric request for a framework to release resources
// ahead of a scheduled maintenance window.
type InverseOffer struct {
	ID          OfferID
	FrameworkID FrameworkID
	AgentID     AgentID
	Resources   Resources
	Unavailability
	ExpiresAt time.Time
}

// Unavailability describes a scheduled maintenance window.
type Unavailability struct {
	Start    time.Time
	Duration time.Duration
}

// Executor is a long-lived task host on an agent.
type Executor struct {
	ID          ExecutorID
	FrameworkID FrameworkID
	AgentID     AgentID
	Resources   Resources
	Tasks       map[TaskID]struct{}
}

// TaskState mirrors the Mesos-style task status vocabulary used by status
// updates and reconciliation.
type TaskState string

const (
	TaskStaging     TaskState = "staging"
	TaskStarting    TaskState = "starting"
	TaskRunning     TaskState = "running"
	TaskFinished    TaskState = "finished"
	TaskFailed      TaskState = "failed"
	TaskKilled      TaskState = "killed"
	TaskLost        TaskState = "lost"
	TaskError       TaskState = "error"
	TaskUnreachable TaskState = "unreachable"
	TaskUnknown     TaskState = "unknown" // reported for reconcile of ids the master never saw
)

// Terminal reports whether a TaskState is a terminal state: once reached the
// task no longer occupies used-resources accounting.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskFinished, TaskFailed, TaskKilled, TaskLost, TaskError:
		return true
	default:
		return false
	}
}

// Task is a single unit of work launched on an agent by a framework.
type Task struct {
	ID          TaskID
	FrameworkID FrameworkID
	AgentID     AgentID
	ExecutorID  ExecutorID // empty if task has no explicit executor
	Name        string
	Resources   Resources
	State       TaskState

	// PendingAckUUID is set once a status update for this task has been
	// forwarded to the framework and is awaiting Acknowledge.
	// Cleared on ack. A task is only safe to garbage-collect once both
	// State.Terminal() and PendingAckUUID == "".
	PendingAckUUID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is the named bucket the allocator uses for sharing and quota.
// Quota/weight values are stored centrally (the master's quotas and weights
// maps), not on Role itself — Role carries no back-pointer to its quota.
type Role struct {
	Name       string
	Frameworks map[FrameworkID]struct{}
}

// Quota is a guaranteed minimum of resources for a role.
type Quota struct {
	Role      string
	Guarantee Resources
}

// MaintenanceMode is a Machine's current maintenance state.
type MaintenanceMode string

const (
	MachineUp       MaintenanceMode = "up"
	MachineDraining MaintenanceMode = "draining"
	MachineDown     MaintenanceMode = "down"
)

// Machine is a physical/logical host independent of any one agent
// incarnation, identified by hostname+IP.
type Machine struct {
	ID       MachineID
	Mode     MaintenanceMode
	Schedule []Unavailability
}
