package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/motunrayo-ayo/bit-oracle/internal/auth"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// AuthService issues login challenges and sessions.
type AuthService interface {
	IssueChallenge(ctx context.Context, who domain.Principal) (auth.Challenge, error)
	Login(ctx context.Context, nonce, signature string) (auth.Session, error)
}

// AuthHandler serves the wallet login flow.
type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, logger: logger}
}

type challengeRequest struct {
	Address string `json:"address"`
}

// Challenge issues a nonce for the given address to sign.
// POST /api/auth/challenge {"address": "0x..."}
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	who, err := domain.ParsePrincipal(req.Address)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ch, err := h.auth.IssueChallenge(r.Context(), who)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type loginRequest struct {
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Login exchanges a signed challenge for a bearer token.
// POST /api/auth/login {"nonce": "...", "signature": "0x..."}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sess, err := h.auth.Login(r.Context(), req.Nonce, req.Signature)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
