package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
)

// SettingsService exposes the administrator's controls and account reads.
type SettingsService struct {
	engine *engine.Engine
	events *Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(eng *engine.Engine, events *Publisher, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		engine: eng,
		events: events,
		logger: logger.With(slog.String("component", "settings_service")),
		now:    time.Now,
	}
}

func (s *SettingsService) changed(ctx context.Context, caller domain.Principal, field string, value any, st domain.Settings) {
	s.events.Emit(ctx, domain.Event{
		Type:   domain.EventSettingsChanged,
		Actor:  caller,
		Height: s.height(ctx),
		Payload: map[string]any{
			"field":   field,
			"value":   value,
			"version": st.Version,
		},
		At: s.now().UTC(),
	})
}

// SetReporter replaces the principal allowed to resolve markets.
func (s *SettingsService) SetReporter(ctx context.Context, caller, reporter domain.Principal) (domain.Settings, error) {
	st, err := s.engine.SetReporter(ctx, caller, reporter)
	if err != nil {
		return domain.Settings{}, err
	}
	s.changed(ctx, caller, "reporter", reporter.String(), st)
	return st, nil
}

// SetMinimumStake changes the smallest accepted stake.
func (s *SettingsService) SetMinimumStake(ctx context.Context, caller domain.Principal, minimum uint64) (domain.Settings, error) {
	st, err := s.engine.SetMinimumStake(ctx, caller, minimum)
	if err != nil {
		return domain.Settings{}, err
	}
	s.changed(ctx, caller, "minimum_stake", amount(minimum), st)
	return st, nil
}

// SetFeeRate changes the platform fee percentage.
func (s *SettingsService) SetFeeRate(ctx context.Context, caller domain.Principal, rate uint64) (domain.Settings, error) {
	st, err := s.engine.SetFeeRate(ctx, caller, rate)
	if err != nil {
		return domain.Settings{}, err
	}
	s.changed(ctx, caller, "fee_rate", rate, st)
	return st, nil
}

// WithdrawFees moves amount from custody to the administrator.
func (s *SettingsService) WithdrawFees(ctx context.Context, caller domain.Principal, amt uint64) (uint64, error) {
	remaining, err := s.engine.WithdrawFees(ctx, caller, amt)
	if err != nil {
		return 0, err
	}
	s.events.Emit(ctx, domain.Event{
		Type:   domain.EventFeesWithdrawn,
		Actor:  caller,
		Height: s.height(ctx),
		Payload: map[string]any{
			"amount":            amount(amt),
			"custody_remaining": amount(remaining),
		},
		At: s.now().UTC(),
	})
	return remaining, nil
}

// Deposit credits an account from outside the engine.
func (s *SettingsService) Deposit(ctx context.Context, caller, to domain.Principal, amt uint64) (uint64, error) {
	balance, err := s.engine.Deposit(ctx, caller, to, amt)
	if err != nil {
		return 0, err
	}
	s.events.Emit(ctx, domain.Event{
		Type:   domain.EventDeposit,
		Actor:  caller,
		Height: s.height(ctx),
		Payload: map[string]any{
			"to":      to.String(),
			"amount":  amount(amt),
			"balance": amount(balance),
		},
		At: s.now().UTC(),
	})
	return balance, nil
}

// Settings returns the current settings record.
func (s *SettingsService) Settings(ctx context.Context) (domain.Settings, error) {
	return s.engine.Settings(ctx)
}

// Balance returns who's free balance.
func (s *SettingsService) Balance(ctx context.Context, who domain.Principal) (uint64, error) {
	return s.engine.Balance(ctx, who)
}

// CustodyBalance returns the amount held in custody.
func (s *SettingsService) CustodyBalance(ctx context.Context) (uint64, error) {
	return s.engine.CustodyBalance(ctx)
}

// Height returns the current logical clock value.
func (s *SettingsService) Height(ctx context.Context) (uint64, error) {
	return s.engine.Height(ctx)
}

func (s *SettingsService) height(ctx context.Context) uint64 {
	h, err := s.engine.Height(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "read height for event failed", slog.String("error", err.Error()))
		return 0
	}
	return h
}
