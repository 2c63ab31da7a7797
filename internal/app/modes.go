package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/motunrayo-ayo/bit-oracle/internal/auth"
	"github.com/motunrayo-ayo/bit-oracle/internal/engine"
	"github.com/motunrayo-ayo/bit-oracle/internal/pipeline"
	"github.com/motunrayo-ayo/bit-oracle/internal/server"
	"github.com/motunrayo-ayo/bit-oracle/internal/server/handler"
	"github.com/motunrayo-ayo/bit-oracle/internal/server/ws"
	"github.com/motunrayo-ayo/bit-oracle/internal/service"
)

// Serve builds the services over eng and runs the HTTP server, the WebSocket
// hub and, when enabled, the settlement report archiver until ctx is done.
func (a *App) Serve(ctx context.Context, deps *Dependencies, eng *engine.Engine) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	events := service.NewPublisher(deps.SignalBus, deps.Audit, deps.Notifier, a.logger)
	markets := service.NewMarketService(eng, deps.MarketCache, events, a.logger)
	positions := service.NewPositionService(eng, markets, events, a.logger)
	settings := service.NewSettingsService(eng, events, a.logger)

	authSvc := auth.NewService(deps.ChallengeStore, auth.JWT{
		Secret:   []byte(a.cfg.Auth.JWTSecret),
		TokenTTL: a.cfg.Auth.TokenTTL.Duration,
	}, a.cfg.Auth.ChallengeTTL.Duration, a.logger)

	// Archiver: cron schedule plus manual triggers from the API.
	var triggerCh chan struct{}
	if a.cfg.Archive.Enabled && deps.ReportArchiver != nil {
		triggerCh = make(chan struct{}, 1)
		archiver := pipeline.NewArchiver(markets, deps.ReportArchiver, deps.LockManager, a.cfg.Archive.LockTTL.Duration, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron, triggerCh)
		})
	} else if a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "archive.enabled is set but s3 is not configured, archiving disabled")
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(settings, a.logger),
		Status: &handler.StatusHandler{
			StoreDriver: deps.StoreDriver,
			ClockSource: deps.ClockSource,
			CacheDriver: deps.CacheDriver,
			StartedAt:   time.Now().UTC(),
			Checks:      deps.Checks,
		},
		Auth:      handler.NewAuthHandler(authSvc, a.logger),
		Markets:   handler.NewMarketHandler(markets, a.logger),
		Positions: handler.NewPositionHandler(positions, a.logger),
		Settings:  handler.NewSettingsHandler(settings, a.logger),
		Archive:   handler.NewArchiveHandler(settings, triggerCh, a.logger),
		Reports:   handler.NewReportHandler(deps.Reports, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, settings, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, authSvc, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})

	return g.Wait()
}
