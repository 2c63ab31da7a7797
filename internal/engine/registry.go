package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// CreateMarketParams are the administrator-chosen market terms.
type CreateMarketParams struct {
	StartPrice uint64 `json:"start_price"`
	StartBlock uint64 `json:"start_block"`
	EndBlock   uint64 `json:"end_block"`
}

// CreateMarket registers a new market under the next sequential id.
// Only the administrator may create markets.
func (e *Engine) CreateMarket(ctx context.Context, caller domain.Principal, p CreateMarketParams) (domain.Market, error) {
	var created domain.Market
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		if p.EndBlock <= p.StartBlock {
			return fmt.Errorf("%w: end block %d must be after start block %d",
				domain.ErrInvalidParameter, p.EndBlock, p.StartBlock)
		}
		if p.StartPrice == 0 {
			return fmt.Errorf("%w: start price must be positive", domain.ErrInvalidParameter)
		}
		if uint64(s.NextMarketID) == math.MaxUint64 {
			return fmt.Errorf("%w: market ids exhausted", domain.ErrAmountOverflow)
		}

		m := domain.Market{
			ID:         s.NextMarketID,
			StartPrice: p.StartPrice,
			StartBlock: p.StartBlock,
			EndBlock:   p.EndBlock,
			CreatedAt:  e.now(),
		}
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}

		s.NextMarketID++
		if _, err := e.putSettings(ctx, tx, s); err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}

	e.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", uint64(created.ID)),
		slog.Uint64("start_price", created.StartPrice),
		slog.Uint64("start_block", created.StartBlock),
		slog.Uint64("end_block", created.EndBlock),
	)
	return created, nil
}

// ResolveMarket records the realized end price. Only the reporter may
// resolve, only once, and only after the end block.
func (e *Engine) ResolveMarket(ctx context.Context, caller domain.Principal, id domain.MarketID, endPrice uint64) (domain.Market, error) {
	height, err := e.Height(ctx)
	if err != nil {
		return domain.Market{}, err
	}

	var resolved domain.Market
	err = e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != s.Reporter {
			return domain.ErrUnauthorized
		}

		m, err := tx.Market(ctx, id)
		if err != nil {
			return err
		}
		if height < m.EndBlock {
			return fmt.Errorf("%w: height %d < end block %d", domain.ErrMarketStillOpen, height, m.EndBlock)
		}
		if m.Resolved {
			return domain.ErrAlreadyResolved
		}
		if endPrice == 0 {
			return fmt.Errorf("%w: end price must be positive", domain.ErrInvalidParameter)
		}

		now := e.now()
		m.EndPrice = endPrice
		m.Resolved = true
		m.ResolvedBlock = height
		m.ResolvedAt = &now
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		resolved = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: resolve market %d: %w", id, err)
	}

	e.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", uint64(id)),
		slog.Uint64("end_price", endPrice),
		slog.String("winning_side", string(resolved.WinningSide())),
		slog.Uint64("height", height),
	)
	return resolved, nil
}

// GetMarket returns a market with its state at the current height.
func (e *Engine) GetMarket(ctx context.Context, id domain.MarketID) (domain.MarketView, error) {
	height, err := e.Height(ctx)
	if err != nil {
		return domain.MarketView{}, err
	}

	var m domain.Market
	err = e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		m, err = tx.Market(ctx, id)
		return err
	})
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("engine: get market %d: %w", id, err)
	}
	return domain.MarketView{Market: m, State: m.State(height), Height: height}, nil
}

// ListMarkets returns markets ordered by id, with their current state.
func (e *Engine) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketView, int64, error) {
	height, err := e.Height(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		markets []domain.Market
		total   int64
	)
	err = e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if markets, err = tx.ListMarkets(ctx, opts); err != nil {
			return err
		}
		total, err = tx.CountMarkets(ctx)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("engine: list markets: %w", err)
	}

	views := make([]domain.MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, domain.MarketView{Market: m, State: m.State(height), Height: height})
	}
	return views, total, nil
}
