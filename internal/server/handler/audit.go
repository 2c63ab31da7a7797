package handler

import (
	"log/slog"
	"net/http"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// AuditHandler pages through the audit log. Administrator only.
type AuditHandler struct {
	audit    domain.AuditStore
	settings SettingsReader
	logger   *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, settings SettingsReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, settings: settings, logger: logger}
}

// ListEntries returns audit entries newest first.
// GET /api/audit?limit=&offset=
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdmin(r, h.settings); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
