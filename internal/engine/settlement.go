package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// Claim pays out the caller's winning position on a resolved market. The
// payout to the caller and the fee to the administrator are moved out of
// custody in the same transaction that marks the position claimed.
func (e *Engine) Claim(ctx context.Context, caller domain.Principal, id domain.MarketID) (domain.Payout, error) {
	if err := requireParticipant(caller); err != nil {
		return domain.Payout{}, fmt.Errorf("engine: claim: %w", err)
	}

	var payout domain.Payout
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Market(ctx, id)
		if err != nil {
			return err
		}
		pos, err := tx.Position(ctx, id, caller)
		if err != nil {
			return err
		}
		if !m.Resolved {
			return fmt.Errorf("%w: market %d is not resolved", domain.ErrMarketClosed, id)
		}
		if pos.Claimed {
			return domain.ErrAlreadyClaimed
		}
		winner := m.WinningSide()
		if pos.Side != winner {
			return fmt.Errorf("%w: backed %s, %s won", domain.ErrNotAWinner, pos.Side, winner)
		}

		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		payout, err = ComputePayout(m, pos.Side, pos.Stake, s.FeeRate)
		if err != nil {
			return err
		}

		if payout.Amount > 0 {
			if err := tx.Transfer(ctx, domain.Custody, caller, payout.Amount); err != nil {
				return err
			}
		}
		if payout.Fee > 0 {
			if err := tx.Transfer(ctx, domain.Custody, s.Admin, payout.Fee); err != nil {
				return err
			}
		}

		now := e.now()
		pos.Claimed = true
		pos.Payout = payout.Amount
		pos.Fee = payout.Fee
		pos.ClaimedAt = &now
		return tx.UpdatePosition(ctx, pos)
	})
	if err != nil {
		return domain.Payout{}, fmt.Errorf("engine: claim market %d: %w", id, err)
	}

	e.logger.InfoContext(ctx, "position claimed",
		slog.Uint64("market_id", uint64(id)),
		slog.String("owner", caller.String()),
		slog.Uint64("payout", payout.Amount),
		slog.Uint64("fee", payout.Fee),
	)
	return payout, nil
}

// Quote computes what owner's position would pay if claimed now. It never
// mutates state and returns the same errors Claim would, except that an
// already claimed position quotes its recorded payout.
func (e *Engine) Quote(ctx context.Context, id domain.MarketID, owner domain.Principal) (domain.Payout, error) {
	var payout domain.Payout
	err := e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Market(ctx, id)
		if err != nil {
			return err
		}
		pos, err := tx.Position(ctx, id, owner)
		if err != nil {
			return err
		}
		if !m.Resolved {
			return fmt.Errorf("%w: market %d is not resolved", domain.ErrMarketClosed, id)
		}
		if pos.Claimed {
			payout = domain.Payout{Winnings: pos.Payout + pos.Fee, Fee: pos.Fee, Amount: pos.Payout}
			return nil
		}
		if pos.Side != m.WinningSide() {
			return domain.ErrNotAWinner
		}
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		payout, err = ComputePayout(m, pos.Side, pos.Stake, s.FeeRate)
		return err
	})
	if err != nil {
		return domain.Payout{}, fmt.Errorf("engine: quote %d/%s: %w", id, owner, err)
	}
	return payout, nil
}

// SettlementReport builds the archive record of a resolved market. Each
// line carries the recorded payout of claimed positions and a quote at the
// current fee rate for unclaimed winners.
func (e *Engine) SettlementReport(ctx context.Context, id domain.MarketID) (domain.SettlementReport, error) {
	var report domain.SettlementReport
	err := e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.Market(ctx, id)
		if err != nil {
			return err
		}
		if !m.Resolved {
			return fmt.Errorf("%w: market %d is not resolved", domain.ErrMarketClosed, id)
		}
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		positions, err := tx.ListPositions(ctx, id)
		if err != nil {
			return err
		}

		winner := m.WinningSide()
		report = domain.SettlementReport{
			Market:      m,
			WinningSide: winner,
			Entries:     make([]domain.SettlementLine, 0, len(positions)),
			GeneratedAt: e.now(),
		}
		for _, p := range positions {
			line := domain.SettlementLine{Position: p, Winner: p.Side == winner}
			switch {
			case p.Claimed:
				line.Quote = domain.Payout{Winnings: p.Payout + p.Fee, Fee: p.Fee, Amount: p.Payout}
			case line.Winner:
				if line.Quote, err = ComputePayout(m, p.Side, p.Stake, s.FeeRate); err != nil {
					return err
				}
			}
			report.Entries = append(report.Entries, line)
		}
		return nil
	})
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("engine: settlement report %d: %w", id, err)
	}
	return report, nil
}
