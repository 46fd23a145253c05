package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/clustermaster/pkg/metrics"
)

// HealthResponse is the /health liveness response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the /ready readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a simple liveness check: 200 as long as the process is
// alive and serving.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler reports registry leadership/follower status and subscriber
// broker health.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if s.master.IsLeader() {
		checks["registry"] = "leader"
	} else {
		checks["registry"] = "follower"
	}
	checks["subscribers"] = fmt.Sprintf("%d connected", s.master.SubscribersConnected())

	// Both leader and follower serve scheduler/operator reads; the
	// registry check above is informational, not a readiness gate.
	response := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Checks:    checks,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// metricsHandler delegates to the shared Prometheus registry.
func (s *Server) metricsHandler() http.Handler {
	return metrics.Handler()
}
