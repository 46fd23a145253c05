package master

import (
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// AgentSnapshot is a read-only, JSON-friendly view of an agent for the
// operator API.
type AgentSnapshot struct {
	Info      types.AgentInfo
	State     types.AgentLifecycleState
	Connected bool
	Active    bool
	Used      types.Resources
	Offered   types.Resources
}

// ListAgents answers every agent the master currently knows about, recovered
// or live.
func (m *Master) ListAgents() []AgentSnapshot {
	result, resolve := future.New[[]AgentSnapshot]()
	m.submit(func(m *Master) {
		out := make([]AgentSnapshot, 0, len(m.agents))
		for _, a := range m.agents {
			out = append(out, AgentSnapshot{
				Info:      a.Info,
				State:     a.State,
				Connected: a.Connected,
				Active:    a.Active,
				Used:      a.UsedTotal(),
				Offered:   a.OfferedResources,
			})
		}
		resolve(out, nil)
	})
	v, _ := result.Await()
	return v
}

// FrameworkSnapshot is a read-only view of a framework for the operator API.
type FrameworkSnapshot struct {
	Info      types.FrameworkInfo
	State     types.FrameworkLifecycleState
	Connected bool
	Active    bool
	TaskCount int
	Used      types.Resources
}

// ListFrameworks answers every framework the master currently knows about.
func (m *Master) ListFrameworks() []FrameworkSnapshot {
	result, resolve := future.New[[]FrameworkSnapshot]()
	m.submit(func(m *Master) {
		out := make([]FrameworkSnapshot, 0, len(m.frameworks))
		for _, fw := range m.frameworks {
			out = append(out, FrameworkSnapshot{
				Info:      fw.Info,
				State:     fw.State,
				Connected: fw.Connected,
				Active:    fw.Active,
				TaskCount: len(fw.Tasks),
				Used:      fw.TotalUsed(),
			})
		}
		resolve(out, nil)
	})
	v, _ := result.Await()
	return v
}

// ListTasks answers every task the master still tracks for frameworkID, or
// for every framework if frameworkID is empty. A terminal task stays listed
// until its status update is acknowledged.
func (m *Master) ListTasks(frameworkID types.FrameworkID) []*types.Task {
	result, resolve := future.New[[]*types.Task]()
	m.submit(func(m *Master) {
		var out []*types.Task
		if frameworkID != "" {
			if fw, ok := m.frameworks[frameworkID]; ok {
				for _, t := range fw.Tasks {
					out = append(out, t)
				}
			}
			resolve(out, nil)
			return
		}
		for _, fw := range m.frameworks {
			for _, t := range fw.Tasks {
				out = append(out, t)
			}
		}
		resolve(out, nil)
	})
	v, _ := result.Await()
	return v
}

// GetMachine answers a machine's current maintenance mode and schedule.
func (m *Master) GetMachine(id types.MachineID) (types.Machine, bool) {
	result, resolve := future.New[struct {
		machine types.Machine
		ok      bool
	}]()
	m.submit(func(m *Master) {
		mach, ok := m.machines[id]
		if !ok {
			resolve(struct {
				machine types.Machine
				ok      bool
			}{}, nil)
			return
		}
		resolve(struct {
			machine types.Machine
			ok      bool
		}{machine: *mach, ok: true}, nil)
	})
	v, _ := result.Await()
	return v.machine, v.ok
}
