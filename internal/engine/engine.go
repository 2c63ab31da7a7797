// Package engine implements the binary-outcome market rules: the market
// registry, the position book, settlement and the configuration authority.
//
// Every exported operation runs inside exactly one domain.Ledger transaction,
// so an operation either applies all of its writes or none of them. The
// caller's identity is passed explicitly; authorization is a comparison
// against principals stored in domain.Settings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// Engine applies market operations to a ledger.
type Engine struct {
	ledger domain.Ledger
	clock  domain.Clock
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNow overrides the wall clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given ledger and logical clock.
func New(ledger domain.Ledger, clock domain.Clock, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		ledger: ledger,
		clock:  clock,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Height returns the current logical clock value.
func (e *Engine) Height(ctx context.Context) (uint64, error) {
	h, err := e.clock.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: read clock: %w", err)
	}
	return h, nil
}

// requireAdmin rejects any caller other than the bootstrap administrator.
func requireAdmin(s domain.Settings, caller domain.Principal) error {
	if caller.IsZero() || caller != s.Admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// requireParticipant rejects empty and reserved principals.
func requireParticipant(caller domain.Principal) error {
	if caller.IsZero() || caller == domain.Custody {
		return domain.ErrUnauthorized
	}
	return nil
}

// putSettings stamps and stores a modified settings record.
func (e *Engine) putSettings(ctx context.Context, tx domain.Tx, s domain.Settings) (domain.Settings, error) {
	s.Version++
	s.UpdatedAt = e.now()
	if err := tx.PutSettings(ctx, s); err != nil {
		return domain.Settings{}, err
	}
	return s, nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
