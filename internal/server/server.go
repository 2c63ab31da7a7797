// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
	"github.com/motunrayo-ayo/bit-oracle/internal/server/handler"
	"github.com/motunrayo-ayo/bit-oracle/internal/server/middleware"
	"github.com/motunrayo-ayo/bit-oracle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	RateLimit       int // requests per RateLimitWindow; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Auth      *handler.AuthHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Settings  *handler.SettingsHandler
	Archive   *handler.ArchiveHandler
	Reports   *handler.ReportHandler
	Audit     *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Routes registers every endpoint on a new ServeMux.
func Routes(handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/auth/challenge", handlers.Auth.Challenge)
	mux.HandleFunc("POST /api/auth/login", handlers.Auth.Login)

	// Market registry.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)

	// Position book and settlement.
	mux.HandleFunc("POST /api/markets/{id}/stake", handlers.Positions.SubmitStake)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Positions.Claim)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Positions.Quote)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/markets/{id}/positions/{owner}", handlers.Positions.GetPosition)

	// Configuration authority and accounts.
	mux.HandleFunc("GET /api/settings", handlers.Settings.GetSettings)
	mux.HandleFunc("PUT /api/settings/reporter", handlers.Settings.SetReporter)
	mux.HandleFunc("PUT /api/settings/minimum-stake", handlers.Settings.SetMinimumStake)
	mux.HandleFunc("PUT /api/settings/fee-rate", handlers.Settings.SetFeeRate)
	mux.HandleFunc("POST /api/fees/withdraw", handlers.Settings.WithdrawFees)
	mux.HandleFunc("GET /api/accounts/{principal}", handlers.Settings.GetBalance)
	mux.HandleFunc("POST /api/accounts/{principal}/deposit", handlers.Settings.Deposit)
	mux.HandleFunc("GET /api/custody", handlers.Settings.GetCustody)

	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/archive/trigger", handlers.Archive.Trigger)
	}
	if handlers.Reports != nil {
		mux.HandleFunc("GET /api/reports", handlers.Reports.ListReports)
		mux.HandleFunc("GET /api/markets/{id}/report", handlers.Reports.GetReport)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// NewServer creates a Server with all routes and the middleware chain:
// CORS, request logging, bearer authentication, then rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, verifier middleware.TokenVerifier, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	var h http.Handler = Routes(handlers, wsHub)

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Auth(verifier)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
