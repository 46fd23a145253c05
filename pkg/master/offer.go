package master

import (
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/cuemby/clustermaster/pkg/types"
)

// RunTaskMessage is forwarded to an agent's sink when a LAUNCH/LAUNCH_GROUP
// operation is applied.
type RunTaskMessage struct {
	FrameworkID types.FrameworkID
	Task        *types.TaskInfo
}

// KillTaskMessage is forwarded to an agent's sink to kill a task the master
// no longer believes should be running.
type KillTaskMessage struct {
	FrameworkID types.FrameworkID
	TaskID      types.TaskID
}

// CheckpointResourcesMessage carries an agent's full checkpointed-resources
// snapshot after a RESERVE/UNRESERVE/CREATE/DESTROY operation is applied.
// Registry is not involved for resource operations — they are
// agent-checkpointed, not master-durable.
type CheckpointResourcesMessage struct {
	Checkpointed types.Resources
}

// onOffer is the allocator.OfferCallback the master wires in at Start. It
// runs on the allocator's own goroutine, so it only ever submits a continuation.
func (m *Master) onOffer(framework types.FrameworkID, bundles map[types.AgentID]types.Resources) {
	m.submit(func(m *Master) {
		fw, ok := m.frameworks[framework]
		if !ok || !fw.Active {
			for agentID, res := range bundles {
				m.allocator.RecoverResources(framework, agentID, res, types.Filters{})
			}
			return
		}

		for agentID, res := range bundles {
			agent, ok := m.agents[agentID]
			if !ok || !agent.Active {
				m.allocator.RecoverResources(framework, agentID, res, types.Filters{})
				continue
			}

			offer := &types.Offer{
				ID:          newOfferID(),
				FrameworkID: framework,
				AgentID:     agentID,
				Resources:   res,
			}
			if m.cfg.OfferTimeout > 0 {
				offer.ExpiresAt = time.Now().Add(m.cfg.OfferTimeout)
			}

			m.offers[offer.ID] = offer
			fw.Offers[offer.ID] = struct{}{}
			agent.Offers[offer.ID] = struct{}{}
			agent.OfferedResources = agent.OfferedResources.Add(res)

			if m.cfg.OfferTimeout > 0 {
				id := offer.ID
				m.offerTimers[id] = time.AfterFunc(m.cfg.OfferTimeout, func() {
					m.submit(func(m *Master) { m.expireOfferLocked(id) })
				})
			}

			if fw.Transport.Writer != nil {
				_ = fw.Transport.Writer.Send(offer)
			}
			metrics.OffersSentTotal.Inc()
			metrics.OffersOutstanding.Set(float64(len(m.offers)))
		}
	})
}

// takeOfferLocked removes an offer from the ledger and its owning
// framework/agent sets without recovering its resources to the allocator —
// the caller (Accept) is responsible for the resources from here on. Must
// run on the actor goroutine.
func (m *Master) takeOfferLocked(id types.OfferID) (*types.Offer, bool) {
	offer, ok := m.offers[id]
	if !ok {
		return nil, false
	}
	delete(m.offers, id)
	if fw, ok := m.frameworks[offer.FrameworkID]; ok {
		delete(fw.Offers, id)
	}
	if agent, ok := m.agents[offer.AgentID]; ok {
		delete(agent.Offers, id)
		agent.OfferedResources = agent.OfferedResources.Subtract(offer.Resources)
	}
	if timer, ok := m.offerTimers[id]; ok {
		timer.Stop()
		delete(m.offerTimers, id)
	}
	metrics.OffersOutstanding.Set(float64(len(m.offers)))
	return offer, true
}

// removeOfferLocked is takeOfferLocked plus returning the offer's resources
// to the allocator — the primitive shared by rescind, expiry, and bulk
// teardown cleanup.
func (m *Master) removeOfferLocked(id types.OfferID, filters types.Filters) {
	offer, ok := m.takeOfferLocked(id)
	if !ok {
		return
	}
	m.allocator.RecoverResources(offer.FrameworkID, offer.AgentID, offer.Resources, filters)
}

// rescindOfferLocked removes an offer because its agent or framework is no
// longer eligible to hold it (disconnect, deactivate), bumping the rescind
// metric. Must run on the actor goroutine.
func (m *Master) rescindOfferLocked(id types.OfferID) {
	if _, ok := m.offers[id]; !ok {
		return
	}
	m.removeOfferLocked(id, types.Filters{})
	metrics.OffersRescindedTotal.Inc()
}

// expireOfferLocked removes an offer whose offer_timeout elapsed before any
// Accept/Decline arrived. Must run on the actor goroutine.
func (m *Master) expireOfferLocked(id types.OfferID) {
	if _, ok := m.offers[id]; !ok {
		return
	}
	m.removeOfferLocked(id, types.Filters{})
	metrics.OffersExpiredTotal.Inc()
}

// rescindAgentOffersLocked rescinds every offer currently outstanding on
// agent, e.g. on disconnect.
func (m *Master) rescindAgentOffersLocked(agentID types.AgentID) {
	agent, ok := m.agents[agentID]
	if !ok {
		return
	}
	for id := range agent.Offers {
		m.rescindOfferLocked(id)
	}
}

// AcceptResult reports, per task launch attempted, whether it succeeded.
type AcceptResult struct {
	LaunchErrors map[types.TaskID]error
}

// actionFor maps an operation kind to the Authorizer action that gates it.
func actionFor(kind types.OperationKind) authz.Action {
	switch kind {
	case types.OpReserve:
		return authz.ActionReserve
	case types.OpUnreserve:
		return authz.ActionUnreserve
	case types.OpCreate:
		return authz.ActionCreateVolume
	case types.OpDestroy:
		return authz.ActionDestroyVolume
	default: // OpLaunch, OpLaunchGroup
		return authz.ActionRunTask
	}
}

// Accept handles a framework's Accept call. It validates offer
// identity, consumes the referenced offers up front, authorizes every
// operation in parallel, then applies authorized operations in the order
// given, returning whatever remains of the combined bundle to the
// allocator.
func (m *Master) Accept(conn authz.Connection, frameworkID types.FrameworkID, offerIDs []types.OfferID, operations []types.Operation, filters types.Filters) *future.Future[AcceptResult] {
	out, resolve := future.New[AcceptResult]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(AcceptResult{}, err)
			return
		}

		type validated struct {
			offered types.Resources
			agentID types.AgentID
			ok      bool
		}
		valResult, valResolve := future.New[validated]()
		m.submit(func(m *Master) {
			if _, ok := m.frameworks[frameworkID]; !ok {
				valResolve(validated{}, ErrUnknownFramework)
				return
			}
			if len(offerIDs) == 0 {
				valResolve(validated{}, ErrUnknownOffer)
				return
			}

			// Validate offer identity up front: all referenced offers must
			// exist, belong to this framework, and share one agent. No
			// ledger mutation happens until every offer checks out, so a bad
			// reference drops the whole Accept atomically.
			var agentID types.AgentID
			for i, id := range offerIDs {
				offer, ok := m.offers[id]
				if !ok {
					valResolve(validated{}, ErrUnknownOffer)
					return
				}
				if offer.FrameworkID != frameworkID {
					valResolve(validated{}, ErrOfferForeign)
					return
				}
				if i == 0 {
					agentID = offer.AgentID
				} else if offer.AgentID != agentID {
					valResolve(validated{}, ErrOfferForeign)
					return
				}
			}

			offered := types.Resources{}
			for _, id := range offerIDs {
				offer, ok := m.takeOfferLocked(id)
				if !ok {
					continue
				}
				offered = offered.Add(offer.Resources)
			}

			// Launches ride out the authorization suspension as pending
			// tasks, visible to reconciliation but not yet to accounting.
			for _, op := range operations {
				for _, ti := range launchTaskInfos(op) {
					m.addPendingTaskLocked(frameworkID, agentID, ti)
				}
			}

			valResolve(validated{offered: offered, agentID: agentID, ok: true}, nil)
		})

		val, err := valResult.Await()
		if err != nil || !val.ok {
			resolve(AcceptResult{}, firstErr(err, ErrUnknownOffer))
			return
		}

		// Authorize every operation in parallel.
		authResults := make([]*future.Future[bool], len(operations))
		for i, op := range operations {
			authResults[i] = m.authz.Authorize(authz.Request{
				Principal: principalOf(principal),
				Action:    actionFor(op.Kind),
				Object:    op,
			})
		}
		allowed := make([]bool, len(operations))
		for i, f := range authResults {
			ok, _ := f.Await()
			allowed[i] = ok
		}

		m.submit(func(m *Master) {
			launchErrors := make(map[types.TaskID]error)
			agent, agentOK := m.agents[val.agentID]
			offered := val.offered

			// Authorization is settled; every launch leaves the pending set
			// here, whether it goes on to install or to fail.
			for _, op := range operations {
				for _, ti := range launchTaskInfos(op) {
					m.removePendingTaskLocked(frameworkID, val.agentID, ti.TaskID)
				}
			}

			var applied []types.Operation
			for i, op := range operations {
				if !agentOK {
					break
				}
				if !allowed[i] {
					metrics.AcceptOperationsTotal.WithLabelValues(string(op.Kind), "denied").Inc()
					for _, ti := range launchTaskInfos(op) {
						launchErrors[ti.TaskID] = ErrAuthorizationDenied
					}
					continue
				}

				var newOffered types.Resources
				var ok bool
				newOffered, ok = m.applyOperationLocked(frameworkID, agent, offered, op, launchErrors)
				if ok {
					offered = newOffered
					applied = append(applied, op)
					metrics.AcceptOperationsTotal.WithLabelValues(string(op.Kind), "applied").Inc()
				} else {
					metrics.AcceptOperationsTotal.WithLabelValues(string(op.Kind), "failed").Inc()
				}
			}

			if len(applied) > 0 {
				m.allocator.UpdateAllocation(frameworkID, val.agentID, applied)
			}
			if agentOK && len(offered) > 0 {
				m.allocator.RecoverResources(frameworkID, val.agentID, offered, filters)
			}

			resolve(AcceptResult{LaunchErrors: launchErrors}, nil)
		})
	}()

	return out
}

// applyOperationLocked applies a single authorized operation against the
// offered bundle, mutating agent/framework/task state as needed, and
// returns the new offered bundle. Must run on the actor goroutine.
func (m *Master) applyOperationLocked(frameworkID types.FrameworkID, agent *types.Agent, offered types.Resources, op types.Operation, launchErrors map[types.TaskID]error) (types.Resources, bool) {
	switch op.Kind {
	case types.OpReserve:
		if !offered.Contains(op.Resources) {
			return offered, false
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Add(op.Resources)
		m.sendCheckpointLocked(agent)
		return offered, true

	case types.OpUnreserve:
		if !agent.Info.CheckpointedResources.Contains(op.Resources) {
			return offered, false
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Subtract(op.Resources)
		m.sendCheckpointLocked(agent)
		return offered, true

	case types.OpCreate:
		if !offered.Contains(op.Resources) {
			return offered, false
		}
		offered = offered.Subtract(op.Resources)
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Add(op.Resources)
		m.sendCheckpointLocked(agent)
		return offered, true

	case types.OpDestroy:
		if !agent.Info.CheckpointedResources.Contains(op.Resources) {
			return offered, false
		}
		agent.Info.CheckpointedResources = agent.Info.CheckpointedResources.Subtract(op.Resources)
		offered = offered.Add(op.Resources)
		m.sendCheckpointLocked(agent)
		return offered, true

	case types.OpLaunch:
		if op.TaskInfo == nil {
			return offered, false
		}
		need := op.TaskInfo.Resources.Add(op.TaskInfo.ExecutorRes)
		if !offered.Contains(need) {
			launchErrors[op.TaskInfo.TaskID] = ErrInsufficientOfferedResources
			return offered, false
		}
		offered = offered.Subtract(need)
		m.installTaskLocked(frameworkID, agent, op.TaskInfo)
		return offered, true

	case types.OpLaunchGroup:
		need := types.Resources{}
		for _, ti := range op.TaskInfos {
			need = need.Add(ti.Resources).Add(ti.ExecutorRes)
		}
		if !offered.Contains(need) {
			for _, ti := range op.TaskInfos {
				launchErrors[ti.TaskID] = ErrInsufficientOfferedResources
			}
			return offered, false
		}
		offered = offered.Subtract(need)
		for _, ti := range op.TaskInfos {
			m.installTaskLocked(frameworkID, agent, ti)
		}
		return offered, true

	default:
		return offered, false
	}
}

// launchTaskInfos flattens the task payloads of a LAUNCH or LAUNCH_GROUP;
// other operation kinds yield nothing.
func launchTaskInfos(op types.Operation) []*types.TaskInfo {
	switch op.Kind {
	case types.OpLaunch:
		if op.TaskInfo == nil {
			return nil
		}
		return []*types.TaskInfo{op.TaskInfo}
	case types.OpLaunchGroup:
		return op.TaskInfos
	default:
		return nil
	}
}

// addPendingTaskLocked records a launch that is suspended on authorization.
// Must run on the actor goroutine.
func (m *Master) addPendingTaskLocked(frameworkID types.FrameworkID, agentID types.AgentID, ti *types.TaskInfo) {
	pending := &types.Task{
		ID:          ti.TaskID,
		FrameworkID: frameworkID,
		AgentID:     agentID,
		ExecutorID:  ti.ExecutorID,
		Name:        ti.Name,
		Resources:   ti.Resources,
		State:       types.TaskStaging,
		CreatedAt:   time.Now(),
	}
	if agent, ok := m.agents[agentID]; ok {
		if agent.PendingTasks[frameworkID] == nil {
			agent.PendingTasks[frameworkID] = make(map[types.TaskID]*types.Task)
		}
		agent.PendingTasks[frameworkID][ti.TaskID] = pending
	}
	if fw, ok := m.frameworks[frameworkID]; ok {
		fw.PendingTasks[ti.TaskID] = pending
	}
}

// removePendingTaskLocked clears a task from the pending sets once its
// authorization has settled. Must run on the actor goroutine.
func (m *Master) removePendingTaskLocked(frameworkID types.FrameworkID, agentID types.AgentID, taskID types.TaskID) {
	if agent, ok := m.agents[agentID]; ok {
		delete(agent.PendingTasks[frameworkID], taskID)
	}
	if fw, ok := m.frameworks[frameworkID]; ok {
		delete(fw.PendingTasks, taskID)
	}
}

// installTaskLocked records a newly launched task against both the agent
// and the framework and forwards the run-task message to the agent's sink.
// Must run on the actor goroutine.
func (m *Master) installTaskLocked(frameworkID types.FrameworkID, agent *types.Agent, ti *types.TaskInfo) {
	task := &types.Task{
		ID:          ti.TaskID,
		FrameworkID: frameworkID,
		AgentID:     agent.Info.ID,
		ExecutorID:  ti.ExecutorID,
		Name:        ti.Name,
		Resources:   ti.Resources,
		State:       types.TaskStaging,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if agent.Tasks[frameworkID] == nil {
		agent.Tasks[frameworkID] = make(map[types.TaskID]*types.Task)
	}
	agent.Tasks[frameworkID][ti.TaskID] = task
	agent.UsedResources[frameworkID] = agent.UsedResources[frameworkID].Add(ti.Resources)

	if fw, ok := m.frameworks[frameworkID]; ok {
		fw.Tasks[ti.TaskID] = task
		fw.UsedResources[agent.Info.ID] = fw.UsedResources[agent.Info.ID].Add(ti.Resources)
	}

	if ti.ExecutorID != "" {
		if agent.Executors[frameworkID] == nil {
			agent.Executors[frameworkID] = make(map[types.ExecutorID]*types.Executor)
		}
		exec, ok := agent.Executors[frameworkID][ti.ExecutorID]
		if !ok {
			exec = &types.Executor{ID: ti.ExecutorID, FrameworkID: frameworkID, AgentID: agent.Info.ID, Resources: ti.ExecutorRes, Tasks: make(map[types.TaskID]struct{})}
			agent.Executors[frameworkID][ti.ExecutorID] = exec
		}
		exec.Tasks[ti.TaskID] = struct{}{}
	}

	if sink, ok := m.agentSinks[agent.Info.ID]; ok && sink != nil {
		_ = sink.Send(RunTaskMessage{FrameworkID: frameworkID, Task: ti})
	}

	metrics.TaskLaunchesTotal.Inc()
}

// sendCheckpointLocked pushes the agent's current checkpointed-resources
// snapshot down its sink.
func (m *Master) sendCheckpointLocked(agent *types.Agent) {
	if sink, ok := m.agentSinks[agent.Info.ID]; ok && sink != nil {
		_ = sink.Send(CheckpointResourcesMessage{Checkpointed: agent.Info.CheckpointedResources})
	}
}

// Decline handles a framework's Decline call: observationally
// equivalent to an Accept with zero operations — every referenced offer's
// resources are recovered unchanged.
func (m *Master) Decline(conn authz.Connection, frameworkID types.FrameworkID, offerIDs []types.OfferID, filters types.Filters) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		if _, err := m.authenticateOrDeny(conn); err != nil {
			resolve(err, nil)
			return
		}

		m.submit(func(m *Master) {
			for _, id := range offerIDs {
				offer, ok := m.offers[id]
				if !ok || offer.FrameworkID != frameworkID {
					continue
				}
				m.removeOfferLocked(id, filters)
			}
			resolve(nil, nil)
		})
	}()

	return out
}

// Revive handles a framework's Revive call: clears any suppression
// so the allocator resumes making offers.
func (m *Master) Revive(frameworkID types.FrameworkID) {
	m.submit(func(m *Master) {
		if _, ok := m.frameworks[frameworkID]; !ok {
			return
		}
		m.allocator.ReviveOffers(frameworkID)
	})
}

// Suppress handles a framework's Suppress call: tells the
// allocator to stop making offers to this framework until revived.
func (m *Master) Suppress(frameworkID types.FrameworkID) {
	m.submit(func(m *Master) {
		if _, ok := m.frameworks[frameworkID]; !ok {
			return
		}
		m.allocator.SuppressOffers(frameworkID)
	})
}
