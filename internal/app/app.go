// Package app provides the top-level application lifecycle management for the
// settlement server. It wires together all dependencies (ledger, clock,
// caches, blob storage, services and notifications) and runs the HTTP API,
// the WebSocket hub and the report archiver.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/motunrayo-ayo/bit-oracle/internal/config"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, bootstraps the
// ledger when an administrator is configured, and serves until the context
// is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("store", a.cfg.Store.Driver),
		slog.String("clock", a.cfg.Clock.Source),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eng := engine.New(deps.Ledger, deps.Clock, a.logger)
	if err := a.bootstrap(ctx, eng); err != nil {
		return err
	}
	return a.Serve(ctx, deps, eng)
}

// bootstrap writes the initial settings on an empty ledger. Without a
// configured admin the ledger must already be bootstrapped.
func (a *App) bootstrap(ctx context.Context, eng *engine.Engine) error {
	b := a.cfg.Bootstrap
	if b.Admin == "" {
		if _, err := eng.Settings(ctx); err != nil {
			if errors.Is(err, domain.ErrNotBootstrapped) {
				a.logger.WarnContext(ctx, "ledger is not bootstrapped and bootstrap.admin is unset; writes will fail")
				return nil
			}
			return fmt.Errorf("app: read settings: %w", err)
		}
		return nil
	}

	admin, err := domain.ParsePrincipal(b.Admin)
	if err != nil {
		return fmt.Errorf("app: bootstrap admin: %w", err)
	}
	params := engine.BootstrapParams{Admin: admin, MinimumStake: b.MinimumStake}
	if b.Reporter != "" {
		if params.Reporter, err = domain.ParsePrincipal(b.Reporter); err != nil {
			return fmt.Errorf("app: bootstrap reporter: %w", err)
		}
	}
	if b.FeeRate != nil {
		fr := uint64(*b.FeeRate)
		params.FeeRate = &fr
	}

	s, err := eng.Bootstrap(ctx, params)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger ready",
		slog.String("admin", s.Admin.String()),
		slog.String("reporter", s.Reporter.String()),
		slog.Uint64("fee_rate", s.FeeRate),
		slog.Uint64("settings_version", s.Version),
	)
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
