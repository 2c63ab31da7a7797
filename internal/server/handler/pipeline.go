package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// SettingsReader returns the current settings record.
type SettingsReader interface {
	Settings(ctx context.Context) (domain.Settings, error)
}

// requireAdmin returns the caller when it is the stored administrator.
func requireAdmin(r *http.Request, settings SettingsReader) (domain.Principal, error) {
	who, err := caller(r)
	if err != nil {
		return "", err
	}
	s, err := settings.Settings(r.Context())
	if err != nil {
		return "", err
	}
	if who != s.Admin {
		return "", fmt.Errorf("%w: %s %s is admin only", domain.ErrUnauthorized, r.Method, r.URL.Path)
	}
	return who, nil
}

// ArchiveHandler lets the administrator request an immediate archive run.
type ArchiveHandler struct {
	settings  SettingsReader
	triggerCh chan<- struct{}
	logger    *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. Sends on triggerCh are
// non-blocking; a nil channel means archiving is disabled.
func NewArchiveHandler(settings SettingsReader, triggerCh chan<- struct{}, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{settings: settings, triggerCh: triggerCh, logger: logger}
}

// Trigger enqueues one archive run.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	who, err := requireAdmin(r, h.settings)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if h.triggerCh == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "archiving is not configured", Code: "archive_disabled"})
		return
	}

	h.logger.InfoContext(r.Context(), "archive trigger requested", slog.String("principal", who.String()))
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
