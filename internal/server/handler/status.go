package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck checks one backend.
type HealthCheck func(ctx context.Context) error

// StatusHandler reports which backends this instance runs with and whether
// each of them answers.
type StatusHandler struct {
	StoreDriver string
	ClockSource string
	CacheDriver string
	StartedAt   time.Time
	Checks      map[string]HealthCheck
}

const statusCheckTimeout = 3 * time.Second

// GetStatus responds with the configured backends, their check results and
// uptime. Any failing check turns the response into 503 "degraded".
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), statusCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"store":          h.StoreDriver,
		"clock":          h.ClockSource,
		"cache":          h.CacheDriver,
		"components":     components,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
