package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator/simple"
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/master"
	"github.com/cuemby/clustermaster/pkg/ratelimit"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *master.Master) {
	t.Helper()
	return newTestServerWithLimiter(t, ratelimit.New(ratelimit.Config{QPS: 1000, Capacity: 1000}, nil))
}

func newTestServerWithLimiter(t *testing.T, limiter *ratelimit.Limiter) (*Server, *master.Master) {
	t.Helper()

	reg, err := registry.NewClient(registry.Config{
		NodeID:   "test-master",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, reg.Bootstrap())
	require.Eventually(t, reg.IsLeader, 5*time.Second, 50*time.Millisecond, "registry never elected itself leader")

	broker := events.NewBroker()
	broker.Start()

	m := master.New(master.DefaultConfig(), reg, simple.New(), authz.NoneAuthenticator{}, authz.AllowAllAuthorizer{}, ratelimit.New(ratelimit.Config{QPS: 1000, Capacity: 1000}, nil), broker, "test")
	require.NoError(t, m.Start())

	t.Cleanup(func() {
		m.Stop()
		broker.Stop()
		reg.Close()
	})

	return NewServer(m, broker, limiter, "test-version"), m
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAlwaysOK(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "test-version", resp.Version)
}

func TestReadyReportsLeadership(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "leader", resp.Checks["registry"])
}

func TestRegisterAgentThenListAgents(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/agent/register", registerAgentRequest{
		Info: types.AgentInfo{Hostname: "a1", Resources: types.Scalar("cpus", 2)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var reg master.RegisterResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	require.NotEmpty(t, reg.AgentID)

	rec = doJSON(t, s, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var agents []master.AgentSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	require.Equal(t, reg.AgentID, agents[0].Info.ID)
}

func TestSubscribeThenTeardown(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/scheduler/subscribe", subscribeRequest{
		Framework: types.FrameworkInfo{Name: "marathon"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var sub master.SubscribeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.FrameworkID)

	rec = doJSON(t, s, http.MethodPost, "/scheduler/teardown", teardownRequest{FrameworkID: sub.FrameworkID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/frameworks", nil)
	var frameworks []master.FrameworkSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frameworks))
	require.Empty(t, frameworks)
}

func TestRemoveUnknownAgentReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/agents/bogus/remove", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetQuotaThenGetQuota(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/v1/quota/analytics", types.Scalar("cpus", 3))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/quota/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var quota types.Quota
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quota))
	require.Equal(t, "analytics", quota.Role)

	rec = doJSON(t, s, http.MethodDelete, "/v1/quota/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/quota/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quota = types.Quota{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quota))
	require.Empty(t, quota.Role)
}

func TestMachineDownThenUp(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/machines/host1/10.0.0.1/down", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/machines/host1/10.0.0.1/up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVersionFlagsAndStateEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/v1/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var version map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	require.Equal(t, "test-version", version["version"])

	rec = doJSON(t, s, http.MethodGet, "/v1/flags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var flags master.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	require.Equal(t, master.DefaultConfig().MaxCompletedFrameworks, flags.MaxCompletedFrameworks)

	rec = doJSON(t, s, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state master.StateSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Zero(t, state.OffersOutstanding)
}

func TestOperatorReserveRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/agent/register", registerAgentRequest{
		Info: types.AgentInfo{Hostname: "a1", Resources: types.Scalar("cpus", 2)},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var reg master.RegisterResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	path := "/v1/agents/" + string(reg.AgentID) + "/reserve"
	rec = doJSON(t, s, http.MethodPost, path, reserveRequest{Resources: types.Scalar("cpus", 1)})
	require.Equal(t, http.StatusOK, rec.Code)

	path = "/v1/agents/" + string(reg.AgentID) + "/unreserve"
	rec = doJSON(t, s, http.MethodPost, path, reserveRequest{Resources: types.Scalar("cpus", 1)})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSchedulerCallsThrottledAtCapacity(t *testing.T) {
	// One token, no queue room: the second call in the same instant drops.
	s, _ := newTestServerWithLimiter(t, ratelimit.New(ratelimit.Config{QPS: 0.01, Capacity: 0}, nil))

	rec := doJSON(t, s, http.MethodPost, "/scheduler/reconcile", reconcileRequest{FrameworkID: "f1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/scheduler/reconcile", reconcileRequest{FrameworkID: "f1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
