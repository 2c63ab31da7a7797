package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
)

// MarketService creates, resolves and reads markets. Reads go through the
// market cache when one is configured. Writers store the committed record
// and the cache keeps whichever snapshot supersedes the other, so a read
// that filled the cache late never hides a newer write.
type MarketService struct {
	engine *engine.Engine
	cache  domain.MarketCache
	events *Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(eng *engine.Engine, cache domain.MarketCache, events *Publisher, logger *slog.Logger) *MarketService {
	return &MarketService{
		engine: eng,
		cache:  cache,
		events: events,
		logger: logger.With(slog.String("component", "market_service")),
		now:    time.Now,
	}
}

// CreateMarket registers a market on behalf of caller.
func (s *MarketService) CreateMarket(ctx context.Context, caller domain.Principal, p engine.CreateMarketParams) (domain.Market, error) {
	m, err := s.engine.CreateMarket(ctx, caller, p)
	if err != nil {
		return domain.Market{}, err
	}
	s.storeCache(ctx, m)
	s.events.Emit(ctx, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: marketRef(m.ID),
		Actor:    caller,
		Height:   s.height(ctx),
		Payload: map[string]any{
			"start_price": amount(m.StartPrice),
			"start_block": m.StartBlock,
			"end_block":   m.EndBlock,
		},
		At: s.now().UTC(),
	})
	return m, nil
}

// ResolveMarket records the end price on behalf of the reporter.
func (s *MarketService) ResolveMarket(ctx context.Context, caller domain.Principal, id domain.MarketID, endPrice uint64) (domain.Market, error) {
	m, err := s.engine.ResolveMarket(ctx, caller, id, endPrice)
	if err != nil {
		return domain.Market{}, err
	}
	s.storeCache(ctx, m)
	s.events.Emit(ctx, domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: marketRef(m.ID),
		Actor:    caller,
		Height:   m.ResolvedBlock,
		Payload: map[string]any{
			"start_price":  amount(m.StartPrice),
			"end_price":    amount(m.EndPrice),
			"winning_side": string(m.WinningSide()),
			"total_up":     amount(m.TotalUp),
			"total_down":   amount(m.TotalDown),
		},
		At: s.now().UTC(),
	})
	return m, nil
}

// GetMarket returns a market with its state at the current height.
func (s *MarketService) GetMarket(ctx context.Context, id domain.MarketID) (domain.MarketView, error) {
	if s.cache == nil {
		return s.engine.GetMarket(ctx, id)
	}

	m, err := s.cache.Get(ctx, id)
	if err != nil {
		view, err := s.engine.GetMarket(ctx, id)
		if err != nil {
			return domain.MarketView{}, err
		}
		s.storeCache(ctx, view.Market)
		return view, nil
	}

	height, err := s.engine.Height(ctx)
	if err != nil {
		return domain.MarketView{}, err
	}
	return domain.MarketView{Market: m, State: m.State(height), Height: height}, nil
}

// ListMarkets returns a page of markets and the total count.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error) {
	return s.engine.ListMarkets(ctx, opts)
}

// SettlementReport returns the archive record of a resolved market.
func (s *MarketService) SettlementReport(ctx context.Context, id domain.MarketID) (domain.SettlementReport, error) {
	return s.engine.SettlementReport(ctx, id)
}

// Refresh stores the committed record of market id in the cache. If the
// ledger read fails the entry is dropped instead.
func (s *MarketService) Refresh(ctx context.Context, id domain.MarketID) {
	if s.cache == nil {
		return
	}
	view, err := s.engine.GetMarket(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "cache refresh failed",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
		s.invalidate(ctx, id)
		return
	}
	s.storeCache(ctx, view.Market)
}

// invalidate drops a market from the cache.
func (s *MarketService) invalidate(ctx context.Context, id domain.MarketID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) storeCache(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("market_id", m.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// height is best effort; events carry 0 if the clock is unavailable.
func (s *MarketService) height(ctx context.Context) uint64 {
	h, err := s.engine.Height(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "read height for event failed", slog.String("error", err.Error()))
		return 0
	}
	return h
}
