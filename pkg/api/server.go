package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/log"
	"github.com/cuemby/clustermaster/pkg/master"
	"github.com/cuemby/clustermaster/pkg/ratelimit"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server is the cluster master's HTTP gateway: a thin net/http + gorilla/mux
// layer that converts requests into pkg/master calls and their futures' Await
// results into JSON responses. It holds no cluster state of its own.
type Server struct {
	master  *master.Master
	broker  *events.Broker
	limiter *ratelimit.Limiter
	router  *mux.Router
	logger  zerolog.Logger
	version string

	http *http.Server
}

// NewServer builds the router; call Start to begin serving. limiter may be
// nil, in which case scheduler calls are not throttled.
func NewServer(m *master.Master, broker *events.Broker, limiter *ratelimit.Limiter, version string) *Server {
	s := &Server{
		master:  m,
		broker:  broker,
		limiter: limiter,
		logger:  log.WithComponent("api"),
		version: version,
	}
	s.router = s.buildRouter()
	return s
}

// Start begins serving HTTP on addr; blocks until Stop is called or the
// listener fails.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream holds connections open
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLog(s.logger))

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)

	sched := r.PathPrefix("/scheduler").Subrouter()
	sched.Use(s.throttle)
	sched.HandleFunc("/subscribe", instrument("Subscribe", s.handleSubscribe)).Methods(http.MethodPost)
	sched.HandleFunc("/teardown", instrument("Teardown", s.handleTeardown)).Methods(http.MethodPost)
	sched.HandleFunc("/accept", instrument("Accept", s.handleAccept)).Methods(http.MethodPost)
	sched.HandleFunc("/decline", instrument("Decline", s.handleDecline)).Methods(http.MethodPost)
	sched.HandleFunc("/revive", instrument("Revive", s.handleRevive)).Methods(http.MethodPost)
	sched.HandleFunc("/suppress", instrument("Suppress", s.handleSuppress)).Methods(http.MethodPost)
	sched.HandleFunc("/acknowledge", instrument("Acknowledge", s.handleAcknowledge)).Methods(http.MethodPost)
	sched.HandleFunc("/reconcile", instrument("Reconcile", s.handleReconcile)).Methods(http.MethodPost)
	sched.HandleFunc("/accept-inverse-offers", instrument("AcceptInverseOffers", s.handleAcceptInverseOffers)).Methods(http.MethodPost)
	sched.HandleFunc("/decline-inverse-offers", instrument("DeclineInverseOffers", s.handleDeclineInverseOffers)).Methods(http.MethodPost)
	sched.HandleFunc("/kill", instrument("Kill", s.handleKill)).Methods(http.MethodPost)
	sched.HandleFunc("/shutdown", instrument("Shutdown", s.handleShutdown)).Methods(http.MethodPost)
	sched.HandleFunc("/message", instrument("Message", s.handleMessage)).Methods(http.MethodPost)
	sched.HandleFunc("/request", instrument("Request", s.handleRequest)).Methods(http.MethodPost)

	agent := r.PathPrefix("/agent").Subrouter()
	agent.HandleFunc("/register", instrument("RegisterAgent", s.handleRegisterAgent)).Methods(http.MethodPost)
	agent.HandleFunc("/reregister", instrument("ReregisterAgent", s.handleReregisterAgent)).Methods(http.MethodPost)
	agent.HandleFunc("/status", instrument("UpdateTaskStatus", s.handleUpdateTaskStatus)).Methods(http.MethodPost)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/agents", instrument("ListAgents", s.handleListAgents)).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{id}/remove", instrument("RemoveAgent", s.handleRemoveAgent)).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{id}/disconnect", instrument("AgentDisconnected", s.handleAgentDisconnected)).Methods(http.MethodPost)
	v1.HandleFunc("/frameworks", instrument("ListFrameworks", s.handleListFrameworks)).Methods(http.MethodGet)
	v1.HandleFunc("/frameworks/{id}/disconnect", instrument("FrameworkDisconnected", s.handleFrameworkDisconnected)).Methods(http.MethodPost)
	v1.HandleFunc("/tasks", instrument("ListTasks", s.handleListTasks)).Methods(http.MethodGet)
	v1.HandleFunc("/roles", instrument("ListRoles", s.handleListRoles)).Methods(http.MethodGet)
	v1.HandleFunc("/quota/{role}", instrument("GetQuota", s.handleGetQuota)).Methods(http.MethodGet)
	v1.HandleFunc("/quota/{role}", instrument("SetQuota", s.handleSetQuota)).Methods(http.MethodPut)
	v1.HandleFunc("/quota/{role}", instrument("RemoveQuota", s.handleRemoveQuota)).Methods(http.MethodDelete)
	v1.HandleFunc("/weights", instrument("UpdateWeights", s.handleUpdateWeights)).Methods(http.MethodPut)
	v1.HandleFunc("/machines/{hostname}/{ip}/down", instrument("MachineDown", s.handleMachineDown)).Methods(http.MethodPost)
	v1.HandleFunc("/machines/{hostname}/{ip}/up", instrument("MachineUp", s.handleMachineUp)).Methods(http.MethodPost)
	v1.HandleFunc("/machines/{hostname}/{ip}/schedule", instrument("UpdateMaintenanceSchedule", s.handleUpdateMaintenanceSchedule)).Methods(http.MethodPut)
	v1.HandleFunc("/agents/{id}/reserve", instrument("Reserve", s.handleOperatorReserve)).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{id}/unreserve", instrument("Unreserve", s.handleOperatorUnreserve)).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{id}/volumes/create", instrument("CreateVolume", s.handleOperatorCreateVolume)).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{id}/volumes/destroy", instrument("DestroyVolume", s.handleOperatorDestroyVolume)).Methods(http.MethodPost)
	v1.HandleFunc("/flags", instrument("GetFlags", s.handleGetFlags)).Methods(http.MethodGet)
	v1.HandleFunc("/version", instrument("GetVersion", s.handleGetVersion)).Methods(http.MethodGet)
	v1.HandleFunc("/state", instrument("GetState", s.handleGetState)).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.eventsHandler).Methods(http.MethodGet)

	return r
}

// connectionFromRequest builds an authz.Connection from whatever credentials
// the request carries: a verified mTLS peer certificate chain, if present,
// and/or a bearer token.
func connectionFromRequest(r *http.Request) authz.Connection {
	conn := authz.Connection{RemoteAddr: r.RemoteAddr}
	if r.TLS != nil {
		conn.PeerCertificates = r.TLS.PeerCertificates
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		conn.BearerToken = auth[7:]
	}
	return conn
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a master-level error to an HTTP status code. Unrecognized
// errors map to 500; writeError still puts the error's text in the body.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, master.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, master.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, master.ErrUnknownOffer), errors.Is(err, master.ErrUnknownFramework),
		errors.Is(err, master.ErrUnknownAgent), errors.Is(err, master.ErrNoSuchReservation):
		return http.StatusNotFound
	case errors.Is(err, master.ErrOfferForeign), errors.Is(err, master.ErrInsufficientAgentResources):
		return http.StatusConflict
	case errors.Is(err, master.ErrAgentRemoved):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// throttle rate-limits the scheduler call surface per principal. The key is
// whatever identity the connection carries — a verified certificate CN or a
// bearer token — with anonymous connections sharing the default limiter. A
// message whose principal has no token is held until the bucket refills;
// one whose deferred-queue is full is answered 429.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.limiter.Throttle(r.Context(), principalKey(r)); err != nil {
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principalKey extracts the rate-limit key from a request's credentials
// without running the full authenticator: the limiter only needs a stable
// per-caller identity, and an unauthenticated caller maps to the default
// limiter via the empty key.
func principalKey(r *http.Request) string {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0].Subject.CommonName
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return ""
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- scheduler call surface ---

type subscribeRequest struct {
	Framework  types.FrameworkInfo `json:"framework"`
	StreamKind string              `json:"stream_kind"` // "pid" or "http_stream"
	PIDAddress string              `json:"pid_address,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	transport := types.Transport{Kind: types.TransportPID, PIDAddress: req.PIDAddress}
	if req.StreamKind == "http_stream" {
		transport = types.Transport{Kind: types.TransportHTTPStream, Writer: newSinkWriter(w)}
	}

	result, err := s.master.Subscribe(connectionFromRequest(r), req.Framework, transport).Await()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type teardownRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	var req teardownRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.Teardown(connectionFromRequest(r), req.FrameworkID).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type acceptRequest struct {
	FrameworkID types.FrameworkID  `json:"framework_id"`
	OfferIDs    []types.OfferID    `json:"offer_ids"`
	Operations  []types.Operation  `json:"operations"`
	Filters     types.Filters      `json:"filters"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.master.Accept(connectionFromRequest(r), req.FrameworkID, req.OfferIDs, req.Operations, req.Filters).Await()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type declineRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
	OfferIDs    []types.OfferID   `json:"offer_ids"`
	Filters     types.Filters     `json:"filters"`
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.Decline(connectionFromRequest(r), req.FrameworkID, req.OfferIDs, req.Filters).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type frameworkIDRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
}

func (s *Server) handleRevive(w http.ResponseWriter, r *http.Request) {
	var req frameworkIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.Revive(req.FrameworkID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req frameworkIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.Suppress(req.FrameworkID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type acknowledgeRequest struct {
	AgentID     types.AgentID     `json:"agent_id"`
	FrameworkID types.FrameworkID `json:"framework_id"`
	TaskID      types.TaskID      `json:"task_id"`
	UUID        string            `json:"uuid"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.master.Acknowledge(req.AgentID, req.FrameworkID, req.TaskID, req.UUID).Await()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reconcileRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
	TaskIDs     []types.TaskID    `json:"task_ids"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.Reconcile(req.FrameworkID, req.TaskIDs)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type inverseOffersRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
	OfferIDs    []types.OfferID   `json:"offer_ids"`
}

func (s *Server) handleAcceptInverseOffers(w http.ResponseWriter, r *http.Request) {
	var req inverseOffersRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.AcceptInverseOffers(req.FrameworkID, req.OfferIDs)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeclineInverseOffers(w http.ResponseWriter, r *http.Request) {
	var req inverseOffersRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.DeclineInverseOffers(req.FrameworkID, req.OfferIDs)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type killRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
	TaskID      types.TaskID      `json:"task_id"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.Kill(connectionFromRequest(r), req.FrameworkID, req.TaskID).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type shutdownRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
	AgentID     types.AgentID     `json:"agent_id"`
	ExecutorID  types.ExecutorID  `json:"executor_id"`
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req shutdownRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.ShutdownExecutor(connectionFromRequest(r), req.FrameworkID, req.AgentID, req.ExecutorID).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type messageRequest struct {
	FrameworkID types.FrameworkID `json:"framework_id"`
	AgentID     types.AgentID     `json:"agent_id"`
	ExecutorID  types.ExecutorID  `json:"executor_id"`
	Data        []byte            `json:"data"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.Message(req.FrameworkID, req.AgentID, req.ExecutorID, req.Data)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type resourceRequest struct {
	FrameworkID types.FrameworkID       `json:"framework_id"`
	Requests    []types.ResourceRequest `json:"requests"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.Request(req.FrameworkID, req.Requests)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- agent-facing surface ---

type registerAgentRequest struct {
	Info       types.AgentInfo `json:"info"`
	StreamKind string          `json:"stream_kind"`

	// Tasks is only meaningful on reregistration: the agent's own snapshot
	// of what is still running there.
	Tasks []types.Task `json:"tasks,omitempty"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var sink types.MessageSink
	if req.StreamKind == "http_stream" {
		sink = newSinkWriter(w)
	}
	result, err := s.master.RegisterAgent(connectionFromRequest(r), req.Info, sink).Await()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReregisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var sink types.MessageSink
	if req.StreamKind == "http_stream" {
		sink = newSinkWriter(w)
	}
	result, err := s.master.ReregisterAgent(connectionFromRequest(r), req.Info, req.Tasks, sink).Await()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type taskStatusRequest struct {
	AgentID     types.AgentID     `json:"agent_id"`
	FrameworkID types.FrameworkID `json:"framework_id"`
	TaskID      types.TaskID      `json:"task_id"`
	State       types.TaskState   `json:"state"`
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.master.UpdateTaskStatus(req.AgentID, req.FrameworkID, req.TaskID, req.State)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- operator surface ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.master.ListAgents())
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	id := types.AgentID(mux.Vars(r)["id"])
	if err, _ := s.master.RemoveAgent(connectionFromRequest(r), id).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAgentDisconnected(w http.ResponseWriter, r *http.Request) {
	id := types.AgentID(mux.Vars(r)["id"])
	s.master.AgentDisconnected(id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListFrameworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.master.ListFrameworks())
}

func (s *Server) handleFrameworkDisconnected(w http.ResponseWriter, r *http.Request) {
	id := types.FrameworkID(mux.Vars(r)["id"])
	s.master.FrameworkDisconnected(id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	fw := types.FrameworkID(r.URL.Query().Get("framework_id"))
	writeJSON(w, http.StatusOK, s.master.ListTasks(fw))
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.master.ListRoles())
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	role := mux.Vars(r)["role"]
	quota, err := s.master.GetQuota(connectionFromRequest(r), role).Await()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, quota)
}

func (s *Server) handleSetQuota(w http.ResponseWriter, r *http.Request) {
	role := mux.Vars(r)["role"]
	var req types.Resources
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.SetQuota(connectionFromRequest(r), role, req).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveQuota(w http.ResponseWriter, r *http.Request) {
	role := mux.Vars(r)["role"]
	if err, _ := s.master.RemoveQuota(connectionFromRequest(r), role).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUpdateWeights(w http.ResponseWriter, r *http.Request) {
	var req map[string]float64
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.UpdateWeights(connectionFromRequest(r), req).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type reserveRequest struct {
	Resources types.Resources `json:"resources"`
	VolumeID  string          `json:"volume_id,omitempty"`
}

func (s *Server) handleOperatorReserve(w http.ResponseWriter, r *http.Request) {
	s.operatorResourceOp(w, r, func(conn authz.Connection, id types.AgentID, req reserveRequest) error {
		err, _ := s.master.OperatorReserve(conn, id, req.Resources).Await()
		return err
	})
}

func (s *Server) handleOperatorUnreserve(w http.ResponseWriter, r *http.Request) {
	s.operatorResourceOp(w, r, func(conn authz.Connection, id types.AgentID, req reserveRequest) error {
		err, _ := s.master.OperatorUnreserve(conn, id, req.Resources).Await()
		return err
	})
}

func (s *Server) handleOperatorCreateVolume(w http.ResponseWriter, r *http.Request) {
	s.operatorResourceOp(w, r, func(conn authz.Connection, id types.AgentID, req reserveRequest) error {
		err, _ := s.master.OperatorCreateVolume(conn, id, req.VolumeID, req.Resources).Await()
		return err
	})
}

func (s *Server) handleOperatorDestroyVolume(w http.ResponseWriter, r *http.Request) {
	s.operatorResourceOp(w, r, func(conn authz.Connection, id types.AgentID, req reserveRequest) error {
		err, _ := s.master.OperatorDestroyVolume(conn, id, req.VolumeID, req.Resources).Await()
		return err
	})
}

func (s *Server) operatorResourceOp(w http.ResponseWriter, r *http.Request, call func(authz.Connection, types.AgentID, reserveRequest) error) {
	var req reserveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := types.AgentID(mux.Vars(r)["id"])
	if err := call(connectionFromRequest(r), id, req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.master.Flags())
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.master.State())
}

func machineIDFromVars(r *http.Request) types.MachineID {
	vars := mux.Vars(r)
	return types.MachineID{Hostname: vars["hostname"], IP: vars["ip"]}
}

func (s *Server) handleMachineDown(w http.ResponseWriter, r *http.Request) {
	id := machineIDFromVars(r)
	if err, _ := s.master.MachineDown(connectionFromRequest(r), id).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMachineUp(w http.ResponseWriter, r *http.Request) {
	id := machineIDFromVars(r)
	if err, _ := s.master.MachineUp(connectionFromRequest(r), id).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUpdateMaintenanceSchedule(w http.ResponseWriter, r *http.Request) {
	id := machineIDFromVars(r)
	var req []types.Unavailability
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err, _ := s.master.UpdateMaintenanceSchedule(connectionFromRequest(r), id, req).Await(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
