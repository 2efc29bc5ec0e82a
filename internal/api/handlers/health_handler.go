package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/essaygrader/hub/internal/api/response"
)

const defaultReadyTimeout = 2 * time.Second

// ReadinessCheck reports whether one dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks  map[string]ReadinessCheck
	timeout time.Duration
}

// NewHealthHandler creates a health handler. checks is keyed by dependency name and may be nil.
func NewHealthHandler(checks map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: defaultReadyTimeout}
}

// Check handles GET /health. It never touches dependencies.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

// Ready handles GET /ready: 200 when every check passes, 503 otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	sort.Strings(names)

	body := ReadyResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)

			body.Checks[name] = "unavailable"
			body.Status = "unavailable"
			status = http.StatusServiceUnavailable

			continue
		}

		body.Checks[name] = "ok"
	}

	response.RespondJSON(w, status, body)
}
