package handlers

import (
	"net/http"
	"time"

	"github.com/goclaw/simnet/pkg/api/response"
	"github.com/goclaw/simnet/pkg/version"
)

// EngineStatus is what the probes need from the engine.
type EngineStatus interface {
	Accepting() bool
	Active() []string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	engine  EngineStatus
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(eng EngineStatus) *HealthHandler {
	return &HealthHandler{
		engine:  eng,
		started: time.Now(),
	}
}

// Health handles the /health endpoint (liveness probe). The process is
// alive as long as it answers.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). It fails once the
// engine stops accepting runs.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.Accepting() {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
		"ready": false,
	})
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Accepting  bool              `json:"accepting"`
	ActiveRuns []string          `json:"active_runs"`
	Uptime     string            `json:"uptime"`
	Version    map[string]string `json:"version"`
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	active := h.engine.Active()
	if active == nil {
		active = []string{}
	}
	response.JSON(w, http.StatusOK, StatusResponse{
		Accepting:  h.engine.Accepting(),
		ActiveRuns: active,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Version:    version.Info(),
	})
}
