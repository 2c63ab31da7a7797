package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/motunrayo-ayo/bit-oracle/internal/auth"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps err to an HTTP status and a stable code. Unexpected
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	status := StatusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// StatusFor maps an error code from domain.ErrorCode to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case "unauthenticated":
		return http.StatusUnauthorized
	case "unauthorized":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "invalid_side", "invalid_stake", "invalid_parameter":
		return http.StatusBadRequest
	case "market_closed", "market_still_open", "already_resolved", "already_claimed",
		"position_exists", "already_exists":
		return http.StatusConflict
	case "not_a_winner":
		return http.StatusUnprocessableEntity
	case "insufficient_balance":
		return http.StatusPaymentRequired
	case "not_bootstrapped":
		return http.StatusServiceUnavailable
	case "rate_limited":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", domain.ErrInvalidParameter, err)
	}
	return nil
}

// caller returns the authenticated principal or ErrUnauthenticated.
func caller(r *http.Request) (domain.Principal, error) {
	who, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("%w: bearer token required", domain.ErrUnauthenticated)
	}
	return who, nil
}

func marketIDParam(r *http.Request) (domain.MarketID, error) {
	return domain.ParseMarketID(r.PathValue("id"))
}

func principalParam(r *http.Request, name string) (domain.Principal, error) {
	return domain.ParsePrincipal(r.PathValue(name))
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// Amount is a uint64 that decodes from a JSON number or a decimal string,
// so clients limited to float64 numbers can send exact values.
type Amount uint64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return errors.New("amount must be a non-negative integer below 2^64")
	}
	*a = Amount(n)
	return nil
}
