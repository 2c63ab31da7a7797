package middleware

import (
	"net/http"
	"strings"

	"github.com/motunrayo-ayo/bit-oracle/internal/auth"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// TokenVerifier resolves a bearer token to a principal.
type TokenVerifier interface {
	Verify(token string) (domain.Principal, error)
}

// Auth attaches the principal of a valid bearer token to the request
// context. Requests without a token pass through anonymously and handlers
// decide whether they need a caller; a token that fails verification is
// rejected with 401.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			who, err := verifier.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), who)))
		})
	}
}

// extractToken reads an "Authorization: Bearer <token>" header.
func extractToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `","code":"unauthenticated"}`))
}
