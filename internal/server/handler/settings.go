package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// SettingsService is what the settings and accounts handlers need.
type SettingsService interface {
	SetReporter(ctx context.Context, caller, reporter domain.Principal) (domain.Settings, error)
	SetMinimumStake(ctx context.Context, caller domain.Principal, minimum uint64) (domain.Settings, error)
	SetFeeRate(ctx context.Context, caller domain.Principal, rate uint64) (domain.Settings, error)
	WithdrawFees(ctx context.Context, caller domain.Principal, amount uint64) (uint64, error)
	Deposit(ctx context.Context, caller, to domain.Principal, amount uint64) (uint64, error)
	Settings(ctx context.Context) (domain.Settings, error)
	Balance(ctx context.Context, who domain.Principal) (uint64, error)
	CustodyBalance(ctx context.Context) (uint64, error)
}

// SettingsHandler serves configuration, fee and account endpoints.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logger}
}

// GetSettings returns the settings record.
// GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Settings(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// update decodes req, runs apply as the caller and writes the new settings.
func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request, req any, apply func(ctx context.Context, who domain.Principal) (domain.Settings, error)) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	s, err := apply(r.Context(), who)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SetReporter replaces the reporter.
// PUT /api/settings/reporter {"reporter": "0x..."}
func (h *SettingsHandler) SetReporter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reporter string `json:"reporter"`
	}
	h.update(w, r, &req, func(ctx context.Context, who domain.Principal) (domain.Settings, error) {
		reporter, err := domain.ParsePrincipal(req.Reporter)
		if err != nil {
			return domain.Settings{}, err
		}
		return h.settings.SetReporter(ctx, who, reporter)
	})
}

// SetMinimumStake changes the minimum stake.
// PUT /api/settings/minimum-stake {"minimum_stake": "1000000"}
func (h *SettingsHandler) SetMinimumStake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinimumStake Amount `json:"minimum_stake"`
	}
	h.update(w, r, &req, func(ctx context.Context, who domain.Principal) (domain.Settings, error) {
		return h.settings.SetMinimumStake(ctx, who, uint64(req.MinimumStake))
	})
}

// SetFeeRate changes the fee percentage.
// PUT /api/settings/fee-rate {"fee_rate": 2}
func (h *SettingsHandler) SetFeeRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeRate Amount `json:"fee_rate"`
	}
	h.update(w, r, &req, func(ctx context.Context, who domain.Principal) (domain.Settings, error) {
		return h.settings.SetFeeRate(ctx, who, uint64(req.FeeRate))
	})
}

type balanceResponse struct {
	Principal domain.Principal `json:"principal"`
	Balance   uint64           `json:"balance"`
}

// WithdrawFees moves accumulated custody value to the administrator.
// POST /api/fees/withdraw {"amount": "100"}
func (h *SettingsHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		Amount Amount `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	remaining, err := h.settings.WithdrawFees(r.Context(), who, uint64(req.Amount))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"withdrawn":         uint64(req.Amount),
		"custody_remaining": remaining,
	})
}

// Deposit credits an account. Administrator only.
// POST /api/accounts/{principal}/deposit {"amount": "100"}
func (h *SettingsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := principalParam(r, "principal")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req struct {
		Amount Amount `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	balance, err := h.settings.Deposit(r.Context(), who, to, uint64(req.Amount))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Principal: to, Balance: balance})
}

// GetBalance returns an account's free balance.
// GET /api/accounts/{principal}
func (h *SettingsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	who, err := principalParam(r, "principal")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	balance, err := h.settings.Balance(r.Context(), who)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Principal: who, Balance: balance})
}

// GetCustody returns the custody balance.
// GET /api/custody
func (h *SettingsHandler) GetCustody(w http.ResponseWriter, r *http.Request) {
	balance, err := h.settings.CustodyBalance(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Principal: domain.Custody, Balance: balance})
}
