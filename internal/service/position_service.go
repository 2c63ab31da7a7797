package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
)

// PositionService handles stakes and claims.
type PositionService struct {
	engine  *engine.Engine
	markets *MarketService
	events  *Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewPositionService creates a PositionService. Stakes change market totals,
// so cached markets are refreshed through markets.
func NewPositionService(eng *engine.Engine, markets *MarketService, events *Publisher, logger *slog.Logger) *PositionService {
	return &PositionService{
		engine:  eng,
		markets: markets,
		events:  events,
		logger:  logger.With(slog.String("component", "position_service")),
		now:     time.Now,
	}
}

// SubmitStake locks amount of caller's balance on side.
func (s *PositionService) SubmitStake(ctx context.Context, caller domain.Principal, id domain.MarketID, side domain.Side, amt uint64) (domain.Position, error) {
	pos, err := s.engine.SubmitStake(ctx, caller, id, side, amt)
	if err != nil {
		return domain.Position{}, err
	}
	s.markets.Refresh(ctx, id)
	s.events.Emit(ctx, domain.Event{
		Type:     domain.EventStakeSubmitted,
		MarketID: marketRef(id),
		Actor:    caller,
		Height:   pos.CreatedBlock,
		Payload: map[string]any{
			"side":   string(pos.Side),
			"amount": amount(pos.Stake),
		},
		At: s.now().UTC(),
	})
	return pos, nil
}

// Claim pays out caller's winning position.
func (s *PositionService) Claim(ctx context.Context, caller domain.Principal, id domain.MarketID) (domain.Payout, error) {
	payout, err := s.engine.Claim(ctx, caller, id)
	if err != nil {
		return domain.Payout{}, err
	}
	s.events.Emit(ctx, domain.Event{
		Type:     domain.EventPositionClaimed,
		MarketID: marketRef(id),
		Actor:    caller,
		Height:   s.markets.height(ctx),
		Payload: map[string]any{
			"winnings": amount(payout.Winnings),
			"fee":      amount(payout.Fee),
			"payout":   amount(payout.Amount),
		},
		At: s.now().UTC(),
	})
	return payout, nil
}

// Quote returns what a claim by owner would pay now.
func (s *PositionService) Quote(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Payout, error) {
	return s.engine.Quote(ctx, id, owner)
}

// GetPosition returns owner's position in market id.
func (s *PositionService) GetPosition(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Position, error) {
	return s.engine.GetPosition(ctx, id, owner)
}

// ListPositions returns every position in market id.
func (s *PositionService) ListPositions(ctx context.Context, id domain.MarketID) ([]domain.Position, error) {
	return s.engine.ListPositions(ctx, id)
}
