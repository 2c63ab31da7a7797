package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HeightReader reads the logical clock.
type HeightReader interface {
	Height(ctx context.Context) (uint64, error)
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	clock  HeightReader
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(clock HeightReader, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{clock: clock, logger: logger}
}

// HealthCheck reports liveness and the current clock height. A clock that
// cannot be read makes the service unhealthy.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	height, err := h.clock.Height(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "health: clock unavailable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "clock unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"height":    height,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
