package master

import (
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/future"
	"github.com/cuemby/clustermaster/pkg/types"
)

// onInverseOffer is the allocator.InverseOfferCallback the master wires in
// at Start. Symmetric to onOffer: the allocator
// asks the master to request resources back from a framework ahead of a
// scheduled maintenance window.
func (m *Master) onInverseOffer(framework types.FrameworkID, bundles map[types.AgentID]types.InverseOffer) {
	m.submit(func(m *Master) {
		fw, ok := m.frameworks[framework]
		if !ok || !fw.Active {
			return
		}
		for agentID, inv := range bundles {
			inv.ID = newOfferID()
			inv.FrameworkID = framework
			inv.AgentID = agentID
			m.inverse[inv.ID] = &inv
			fw.InverseOffers[inv.ID] = struct{}{}
			if agent, ok := m.agents[agentID]; ok {
				agent.InverseOffers[inv.ID] = struct{}{}
			}
			if fw.Transport.Writer != nil {
				_ = fw.Transport.Writer.Send(inv)
			}
		}
	})
}

// AcceptInverseOffers and DeclineInverseOffers both simply retire the
// referenced inverse offers; the master does not itself enforce that a
// framework actually relinquished the resources — it only clears the
// bookkeeping so the allocator can decide what to do next.
func (m *Master) AcceptInverseOffers(frameworkID types.FrameworkID, offerIDs []types.OfferID) {
	m.submit(func(m *Master) { m.retireInverseOffersLocked(frameworkID, offerIDs) })
}

func (m *Master) DeclineInverseOffers(frameworkID types.FrameworkID, offerIDs []types.OfferID) {
	m.submit(func(m *Master) { m.retireInverseOffersLocked(frameworkID, offerIDs) })
}

func (m *Master) retireInverseOffersLocked(frameworkID types.FrameworkID, offerIDs []types.OfferID) {
	for _, id := range offerIDs {
		inv, ok := m.inverse[id]
		if !ok || inv.FrameworkID != frameworkID {
			continue
		}
		delete(m.inverse, id)
		if fw, ok := m.frameworks[frameworkID]; ok {
			delete(fw.InverseOffers, id)
		}
		if agent, ok := m.agents[inv.AgentID]; ok {
			delete(agent.InverseOffers, id)
		}
	}
}

// MachineDown transitions a machine into maintenance mode, deactivating any
// agent currently bound to it so the allocator stops offering its
// resources.
func (m *Master) MachineDown(conn authz.Connection, id types.MachineID) *future.Future[error] {
	return m.setMachineMode(conn, id, types.MachineDown)
}

// MachineUp returns a machine to service.
func (m *Master) MachineUp(conn authz.Connection, id types.MachineID) *future.Future[error] {
	return m.setMachineMode(conn, id, types.MachineUp)
}

func (m *Master) setMachineMode(conn authz.Connection, id types.MachineID, mode types.MaintenanceMode) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionUpdateMaintenance, Object: id}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			machine, ok := m.machines[id]
			if !ok {
				machine = &types.Machine{ID: id}
				m.machines[id] = machine
			}
			machine.Mode = mode

			for _, agent := range m.agents {
				if agent.Info.Hostname != id.Hostname || agent.Info.Address != id.IP {
					continue
				}
				if mode == types.MachineDown {
					agent.Active = false
					m.allocator.DeactivateAgent(agent.Info.ID)
					m.rescindAgentOffersLocked(agent.Info.ID)
				} else if agent.Connected {
					agent.Active = true
					m.allocator.ActivateAgent(agent.Info.ID)
				}
			}
			resolve(nil, nil)
		})
	}()

	return out
}

// UpdateMaintenanceSchedule replaces a machine's scheduled unavailability
// windows and informs the allocator.
func (m *Master) UpdateMaintenanceSchedule(conn authz.Connection, id types.MachineID, windows []types.Unavailability) *future.Future[error] {
	out, resolve := future.New[error]()

	go func() {
		principal, err := m.authenticateOrDeny(conn)
		if err != nil {
			resolve(err, nil)
			return
		}
		allowed, err := m.authz.Authorize(authz.Request{Principal: principalOf(principal), Action: authz.ActionUpdateMaintenance, Object: id}).Await()
		if err != nil || !allowed {
			resolve(firstErr(err, ErrAuthorizationDenied), nil)
			return
		}

		m.submit(func(m *Master) {
			machine, ok := m.machines[id]
			if !ok {
				machine = &types.Machine{ID: id, Mode: types.MachineUp}
				m.machines[id] = machine
			}
			machine.Schedule = windows

			var latest *types.Unavailability
			if len(windows) > 0 {
				latest = &windows[0]
			}
			for _, agent := range m.agents {
				if agent.Info.Hostname == id.Hostname && agent.Info.Address == id.IP {
					m.allocator.UpdateUnavailability(agent.Info.ID, latest)
				}
			}
			resolve(nil, nil)
		})
	}()

	return out
}
