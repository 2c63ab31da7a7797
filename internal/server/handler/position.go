package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// PositionService is what the position handler needs from the service layer.
type PositionService interface {
	SubmitStake(ctx context.Context, caller domain.Principal, id domain.MarketID, side domain.Side, amount uint64) (domain.Position, error)
	Claim(ctx context.Context, caller domain.Principal, id domain.MarketID) (domain.Payout, error)
	Quote(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Payout, error)
	GetPosition(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Position, error)
	ListPositions(ctx context.Context, id domain.MarketID) ([]domain.Position, error)
}

// PositionHandler serves stake, claim and position endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type stakeRequest struct {
	Side   string `json:"side"`
	Amount Amount `json:"amount"`
}

// SubmitStake opens the caller's position.
// POST /api/markets/{id}/stake {"side": "up", "amount": "1000000"}
func (h *PositionHandler) SubmitStake(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req stakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// Unknown sides reach the engine as-is so its check ordering decides.
	side := domain.Side(req.Side)
	if parsed, err := domain.ParseSide(req.Side); err == nil {
		side = parsed
	}
	pos, err := h.positions.SubmitStake(r.Context(), who, id, side, uint64(req.Amount))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// Claim pays out the caller's winning position.
// POST /api/markets/{id}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payout, err := h.positions.Claim(r.Context(), who, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

// Quote previews a claim. Without ?owner= it quotes the caller.
// GET /api/markets/{id}/quote[?owner=0x...]
func (h *PositionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var owner domain.Principal
	if q := r.URL.Query().Get("owner"); q != "" {
		owner, err = domain.ParsePrincipal(q)
	} else {
		owner, err = caller(r)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payout, err := h.positions.Quote(r.Context(), id, owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

// ListPositions returns every position in a market.
// GET /api/markets/{id}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	positions, err := h.positions.ListPositions(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetPosition returns one owner's position.
// GET /api/markets/{id}/positions/{owner}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	owner, err := principalParam(r, "owner")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pos, err := h.positions.GetPosition(r.Context(), id, owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
