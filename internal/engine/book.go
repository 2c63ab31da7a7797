package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// SubmitStake locks amount of the caller's balance on one side of an open
// market. A principal holds at most one position per market; a second stake
// fails with ErrPositionExists.
func (e *Engine) SubmitStake(ctx context.Context, caller domain.Principal, id domain.MarketID, side domain.Side, amount uint64) (domain.Position, error) {
	if err := requireParticipant(caller); err != nil {
		return domain.Position{}, fmt.Errorf("engine: submit stake: %w", err)
	}
	height, err := e.Height(ctx)
	if err != nil {
		return domain.Position{}, err
	}

	var pos domain.Position
	err = e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		m, err := tx.Market(ctx, id)
		if err != nil {
			return err
		}
		if m.State(height) != domain.MarketStateOpen {
			return fmt.Errorf("%w: market %d is %s at height %d", domain.ErrMarketClosed, id, m.State(height), height)
		}
		if !side.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
		}
		if amount == 0 || amount < s.MinimumStake {
			return fmt.Errorf("%w: %d below minimum %d", domain.ErrInvalidStake, amount, s.MinimumStake)
		}
		bal, err := tx.Balance(ctx, caller)
		if err != nil {
			return err
		}
		if bal < amount {
			return fmt.Errorf("%w: balance %d < stake %d", domain.ErrInsufficientBalance, bal, amount)
		}
		if _, err := tx.Position(ctx, id, caller); err == nil {
			return domain.ErrPositionExists
		} else if !isNotFound(err) {
			return err
		}

		if err := m.AddStake(side, amount); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, caller, domain.Custody, amount); err != nil {
			return err
		}
		pos = domain.Position{
			MarketID:     id,
			Owner:        caller,
			Side:         side,
			Stake:        amount,
			CreatedBlock: height,
			CreatedAt:    e.now(),
		}
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return err
		}
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: submit stake on market %d: %w", id, err)
	}

	e.logger.InfoContext(ctx, "stake submitted",
		slog.Uint64("market_id", uint64(id)),
		slog.String("owner", caller.String()),
		slog.String("side", string(side)),
		slog.Uint64("amount", amount),
	)
	return pos, nil
}

// GetPosition returns owner's position in a market.
func (e *Engine) GetPosition(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Position, error) {
	var pos domain.Position
	err := e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		pos, err = tx.Position(ctx, id, owner)
		return err
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: get position %d/%s: %w", id, owner, err)
	}
	return pos, nil
}

// ListPositions returns every position on a market ordered by owner.
func (e *Engine) ListPositions(ctx context.Context, id domain.MarketID) ([]domain.Position, error) {
	var positions []domain.Position
	err := e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Market(ctx, id); err != nil {
			return err
		}
		var err error
		positions, err = tx.ListPositions(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("engine: list positions on market %d: %w", id, err)
	}
	return positions, nil
}
