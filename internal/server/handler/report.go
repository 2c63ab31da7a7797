package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// ReportHandler serves archived settlement reports.
type ReportHandler struct {
	reports domain.ReportStore
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler. A nil store means archiving is
// not configured and every request gets 503.
func NewReportHandler(reports domain.ReportStore, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

type reportInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

func (h *ReportHandler) disabled(w http.ResponseWriter) bool {
	if h.reports != nil {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "archiving is not configured", Code: "archive_disabled"})
	return true
}

// GetReport streams the archived JSONL report of one market.
// GET /api/markets/{id}/report
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if h.disabled(w) {
		return
	}

	body, err := h.reports.Open(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "stream report failed",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ListReports lists archived report objects.
// GET /api/reports
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.disabled(w) {
		return
	}
	infos, err := h.reports.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]reportInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, reportInfo{Path: i.Path, Size: i.Size, LastModified: i.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}
