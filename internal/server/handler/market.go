package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, caller domain.Principal, p engine.CreateMarketParams) (domain.Market, error)
	ResolveMarket(ctx context.Context, caller domain.Principal, id domain.MarketID, endPrice uint64) (domain.Market, error)
	GetMarket(ctx context.Context, id domain.MarketID) (domain.MarketView, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets ordered by id.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, total, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.MarketView{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market with its current state.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type createMarketRequest struct {
	StartPrice Amount `json:"start_price"`
	StartBlock Amount `json:"start_block"`
	EndBlock   Amount `json:"end_block"`
}

// CreateMarket registers a market. Administrator only.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), who, engine.CreateMarketParams{
		StartPrice: uint64(req.StartPrice),
		StartBlock: uint64(req.StartBlock),
		EndBlock:   uint64(req.EndBlock),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type resolveRequest struct {
	EndPrice Amount `json:"end_price"`
}

// ResolveMarket records the end price. Reporter only.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
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
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.markets.ResolveMarket(r.Context(), who, id, uint64(req.EndPrice))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
