package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// Default settings written by Bootstrap when none are given.
const (
	DefaultMinimumStake uint64 = 1_000_000
	DefaultFeeRate      uint64 = 2
)

// BootstrapParams seed the settings record of an empty ledger.
type BootstrapParams struct {
	Admin        domain.Principal
	Reporter     domain.Principal // defaults to Admin
	MinimumStake uint64           // defaults to DefaultMinimumStake
	FeeRate      *uint64          // defaults to DefaultFeeRate
}

// Bootstrap writes the initial settings record. On a ledger that is already
// bootstrapped it only verifies the stored administrator matches p.Admin;
// the administrator can never be changed after the first run.
func (e *Engine) Bootstrap(ctx context.Context, p BootstrapParams) (domain.Settings, error) {
	if err := requireParticipant(p.Admin); err != nil {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: %w: admin is required", domain.ErrInvalidParameter)
	}

	var (
		out     domain.Settings
		created bool
	)
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		existing, err := tx.Settings(ctx)
		switch {
		case err == nil:
			if existing.Admin != p.Admin {
				return fmt.Errorf("%w: ledger admin is %s, configured %s", domain.ErrUnauthorized, existing.Admin, p.Admin)
			}
			out = existing
			return nil
		case !errors.Is(err, domain.ErrNotBootstrapped):
			return err
		}

		s := domain.Settings{
			Admin:        p.Admin,
			Reporter:     p.Reporter,
			MinimumStake: p.MinimumStake,
			FeeRate:      DefaultFeeRate,
		}
		if s.Reporter.IsZero() {
			s.Reporter = p.Admin
		}
		if s.MinimumStake == 0 {
			s.MinimumStake = DefaultMinimumStake
		}
		if p.FeeRate != nil {
			s.FeeRate = *p.FeeRate
		}
		if s.Reporter == domain.Custody {
			return fmt.Errorf("%w: reporter cannot be custody", domain.ErrInvalidParameter)
		}
		if s.FeeRate > domain.MaxFeeRate {
			return fmt.Errorf("%w: fee rate %d > %d", domain.ErrInvalidParameter, s.FeeRate, domain.MaxFeeRate)
		}
		out, err = e.putSettings(ctx, tx, s)
		created = true
		return err
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("engine: bootstrap: %w", err)
	}

	if created {
		e.logger.InfoContext(ctx, "ledger bootstrapped",
			slog.String("admin", out.Admin.String()),
			slog.String("reporter", out.Reporter.String()),
			slog.Uint64("minimum_stake", out.MinimumStake),
			slog.Uint64("fee_rate", out.FeeRate),
		)
	}
	return out, nil
}

// updateSettings runs an administrator-gated change to the settings record.
func (e *Engine) updateSettings(ctx context.Context, caller domain.Principal, op string, mutate func(*domain.Settings) error) (domain.Settings, error) {
	var out domain.Settings
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		if err := mutate(&s); err != nil {
			return err
		}
		out, err = e.putSettings(ctx, tx, s)
		return err
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("engine: %s: %w", op, err)
	}

	e.logger.InfoContext(ctx, "settings changed",
		slog.String("op", op),
		slog.Uint64("version", out.Version),
	)
	return out, nil
}

// SetReporter changes the principal allowed to resolve markets.
func (e *Engine) SetReporter(ctx context.Context, caller, reporter domain.Principal) (domain.Settings, error) {
	return e.updateSettings(ctx, caller, "set reporter", func(s *domain.Settings) error {
		if reporter.IsZero() || reporter == domain.Custody {
			return fmt.Errorf("%w: reporter %q", domain.ErrInvalidParameter, reporter)
		}
		s.Reporter = reporter
		return nil
	})
}

// SetMinimumStake changes the smallest accepted stake. It must be positive.
func (e *Engine) SetMinimumStake(ctx context.Context, caller domain.Principal, minimum uint64) (domain.Settings, error) {
	return e.updateSettings(ctx, caller, "set minimum stake", func(s *domain.Settings) error {
		if minimum == 0 {
			return fmt.Errorf("%w: minimum stake must be positive", domain.ErrInvalidParameter)
		}
		s.MinimumStake = minimum
		return nil
	})
}

// SetFeeRate changes the claim fee percentage, 0 to 100 inclusive.
func (e *Engine) SetFeeRate(ctx context.Context, caller domain.Principal, rate uint64) (domain.Settings, error) {
	return e.updateSettings(ctx, caller, "set fee rate", func(s *domain.Settings) error {
		if rate > domain.MaxFeeRate {
			return fmt.Errorf("%w: fee rate %d > %d", domain.ErrInvalidParameter, rate, domain.MaxFeeRate)
		}
		s.FeeRate = rate
		return nil
	})
}

// WithdrawFees moves amount from custody to the administrator.
func (e *Engine) WithdrawFees(ctx context.Context, caller domain.Principal, amount uint64) (uint64, error) {
	var remaining uint64
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidParameter)
		}
		custody, err := tx.Balance(ctx, domain.Custody)
		if err != nil {
			return err
		}
		if amount > custody {
			return fmt.Errorf("%w: custody holds %d, requested %d", domain.ErrInsufficientBalance, custody, amount)
		}
		if err := tx.Transfer(ctx, domain.Custody, s.Admin, amount); err != nil {
			return err
		}
		remaining = custody - amount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("engine: withdraw fees: %w", err)
	}

	e.logger.InfoContext(ctx, "fees withdrawn",
		slog.Uint64("amount", amount),
		slog.Uint64("custody_remaining", remaining),
	)
	return remaining, nil
}

// Deposit credits value entering the engine from outside to a participant.
// Only the administrator may mint balances.
func (e *Engine) Deposit(ctx context.Context, caller, to domain.Principal, amount uint64) (uint64, error) {
	var balance uint64
	err := e.ledger.Update(ctx, func(ctx context.Context, tx domain.Tx) error {
		s, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(s, caller); err != nil {
			return err
		}
		if to.IsZero() || to == domain.Custody {
			return fmt.Errorf("%w: deposit target %q", domain.ErrInvalidParameter, to)
		}
		if amount == 0 {
			return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidParameter)
		}
		if err := tx.Credit(ctx, to, amount); err != nil {
			return err
		}
		balance, err = tx.Balance(ctx, to)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: deposit: %w", err)
	}

	e.logger.InfoContext(ctx, "deposit credited",
		slog.String("to", to.String()),
		slog.Uint64("amount", amount),
		slog.Uint64("balance", balance),
	)
	return balance, nil
}

// Settings returns the current settings record.
func (e *Engine) Settings(ctx context.Context) (domain.Settings, error) {
	var s domain.Settings
	err := e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		s, err = tx.Settings(ctx)
		return err
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("engine: settings: %w", err)
	}
	return s, nil
}

// Balance returns who's spendable balance.
func (e *Engine) Balance(ctx context.Context, who domain.Principal) (uint64, error) {
	var bal uint64
	err := e.ledger.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		bal, err = tx.Balance(ctx, who)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: balance of %s: %w", who, err)
	}
	return bal, nil
}

// CustodyBalance returns the value currently held in engine custody.
func (e *Engine) CustodyBalance(ctx context.Context) (uint64, error) {
	return e.Balance(ctx, domain.Custody)
}
