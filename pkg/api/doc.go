/*
Package api implements the cluster master's HTTP surface: the scheduler call
surface frameworks use to subscribe, accept, and decline, and the operator
surface used to inspect and administer the cluster.

# Architecture

	┌──────────────── FRAMEWORK / OPERATOR ─────────────────┐
	│                                                          │
	│  HTTP client (mTLS optional, bearer token, or none)     │
	└──────────────────────────┬──────────────────────────────┘
	                           │ net/http
	┌──────────────────────────▼──── MASTER NODE ─────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────────┐    │
	│  │     gorilla/mux Router (pkg/api)                │    │
	│  │  - scheduler endpoints (/scheduler/...)         │    │
	│  │  - operator endpoints (/v1/...)                 │    │
	│  │  - websocket event stream (/v1/events)          │    │
	│  └──────────────────┬───────────────────────────────┘    │
	│                     │                                    │
	│  ┌──────────────────▼───────────────────────────────┐    │
	│  │              pkg/master.Master                   │    │
	│  │  - single-actor state machine                    │    │
	│  └────────────────────────────────────────────────────┘    │
	└──────────────────────────────────────────────────────────┘

# Scheduler call surface

	POST /scheduler/subscribe           -> master.Subscribe
	POST /scheduler/teardown             -> master.Teardown
	POST /scheduler/accept               -> master.Accept
	POST /scheduler/decline              -> master.Decline
	POST /scheduler/revive               -> master.Revive
	POST /scheduler/suppress             -> master.Suppress
	POST /scheduler/acknowledge          -> master.Acknowledge
	POST /scheduler/reconcile            -> master.Reconcile
	POST /scheduler/accept-inverse-offers  -> master.AcceptInverseOffers
	POST /scheduler/decline-inverse-offers -> master.DeclineInverseOffers

# Operator API

	GET  /v1/agents                     -> master.ListAgents
	POST /v1/agents/{id}/remove         -> master.RemoveAgent
	GET  /v1/frameworks                 -> master.ListFrameworks
	GET  /v1/tasks                      -> master.ListTasks
	GET  /v1/roles                      -> master.ListRoles
	GET  /v1/quota/{role}               -> master.GetQuota
	PUT  /v1/quota/{role}                -> master.SetQuota
	PUT  /v1/weights                    -> master.UpdateWeights
	POST /v1/machines/{hostname}/{ip}/down -> master.MachineDown
	POST /v1/machines/{hostname}/{ip}/up   -> master.MachineUp
	PUT  /v1/machines/{hostname}/{ip}/schedule -> master.UpdateMaintenanceSchedule
	GET  /v1/events                     -> websocket event stream

# Health

	GET /health  liveness
	GET /ready   readiness (registry leadership, subscriber broker)
	GET /metrics Prometheus exposition

Handlers for the calls the master authenticates (subscribe, teardown,
accept, decline, kill, shutdown, agent registration and removal, quota,
weights, maintenance and the operator resource operations) build an
authz.Connection from the request (mTLS peer certificate, bearer token,
remote address) and let pkg/master's own Authenticator/Authorizer decide
whether the call proceeds. The other handlers (revive, suppress,
acknowledge, reconcile, inverse offers, message, request, status updates,
disconnect notices and the read-only listings) pass no connection and are
not checked. This package performs no authorization decisions of its own.
*/
package api
