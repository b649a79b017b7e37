package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger interface for health check dependencies.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunStatus reports the last scheduled run.
type RunStatus interface {
	Status() (time.Time, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	redis Pinger
	runs  RunStatus
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithRedis adds Redis health check.
func WithRedis(redis Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.redis = redis
	}
}

// WithRunStatus adds the last run to the readiness response.
func WithRunStatus(runs RunStatus) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.runs = runs
	}
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	LastRun   *LastRun               `json:"last_run,omitempty"`
}

// CheckResult represents a single health check result.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LastRun describes the most recent reconciliation run.
type LastRun struct {
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Ready handles the /ready endpoint. It returns 503 when the run lock backend
// is unreachable. A failed last run is reported but does not make the
// process unready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult),
	}
	statusCode := http.StatusOK

	if h.redis != nil {
		result := checkDependency(ctx, h.redis)
		response.Checks["redis"] = result
		if result.Status != "ok" {
			response.Status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
	}

	if h.runs != nil {
		if finished, err := h.runs.Status(); !finished.IsZero() {
			response.LastRun = &LastRun{FinishedAt: finished.UTC()}
			if err != nil {
				response.LastRun.Error = err.Error()
			}
		}
	}

	writeJSON(w, statusCode, response)
}

// checkDependency pings a dependency and returns the result.
func checkDependency(ctx context.Context, pinger Pinger) CheckResult {
	start := time.Now()
	err := pinger.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:   "error",
			Duration: duration.String(),
			Error:    err.Error(),
		}
	}

	return CheckResult{
		Status:   "ok",
		Duration: duration.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
