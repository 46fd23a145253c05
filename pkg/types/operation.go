package types

// OperationKind enumerates the operation payloads a framework may bundle
// into an Accept call.
type OperationKind string

const (
	OpReserve      OperationKind = "RESERVE"
	OpUnreserve    OperationKind = "UNRESERVE"
	OpCreate       OperationKind = "CREATE"
	OpDestroy      OperationKind = "DESTROY"
	OpLaunch       OperationKind = "LAUNCH"
	OpLaunchGroup  OperationKind = "LAUNCH_GROUP"
)

// Operation is one entry in an Accept call's operation list. Fields not
// relevant to Kind are left zero; e.g. a RESERVE only sets Role/Resources, a
// LAUNCH only sets TaskInfo.
type Operation struct {
	Kind      OperationKind
	AgentID   AgentID
	Role      string
	Resources Resources

	// TaskInfo/TaskInfos back LAUNCH and LAUNCH_GROUP respectively.
	TaskInfo  *TaskInfo
	TaskInfos []*TaskInfo

	// VolumeID backs CREATE/DESTROY of a persistent volume.
	VolumeID string
}

// TaskInfo is the launch payload for a single task: everything the agent
// needs to start it, plus whatever executor it should run under.
type TaskInfo struct {
	TaskID      TaskID
	Name        string
	Resources   Resources
	ExecutorID  ExecutorID // empty if the task runs without an explicit executor
	ExecutorRes Resources  // resources to additionally reserve for a new executor
	Command     []string
	Env         map[string]string
}

// ResourceRequest is one entry in a framework's Request call: a hint about
// resources it would like on a particular agent (or any agent, if AgentID is
// empty). Allocation remains offer-driven; requests are advisory only.
type ResourceRequest struct {
	AgentID   AgentID
	Resources Resources
}

// Filters accompanies Accept/Decline and is forwarded verbatim to
// Allocator.RecoverResources: how long the allocator
// should avoid re-offering the returned resources to the same framework.
type Filters struct {
	RefuseSeconds float64
}
