package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/auth"
	"github.com/motunrayo-ayo/bit-oracle/internal/cache/local"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

type staticVerifier map[string]domain.Principal

func (v staticVerifier) Verify(token string) (domain.Principal, error) {
	if who, ok := v[token]; ok {
		return who, nil
	}
	return "", domain.ErrUnauthenticated
}

const alice = domain.Principal("0x000000000000000000000000000000000000dEaD")

func whoami() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, _ := auth.PrincipalFromContext(r.Context())
		w.Write([]byte(who))
	})
}

func TestAuthAttachesPrincipal(t *testing.T) {
	h := Auth(staticVerifier{"good": alice})(whoami())

	cases := []struct {
		header string
		status int
		body   string
	}{
		{"", http.StatusOK, ""},
		{"Bearer good", http.StatusOK, string(alice)},
		{"bearer good", http.StatusOK, string(alice)},
		{"Bearer bad", http.StatusUnauthorized, ""},
		{"Basic good", http.StatusOK, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%q: status %d", tc.header, rec.Code)
		}
		if tc.status == http.StatusOK && rec.Body.String() != tc.body {
			t.Fatalf("%q: body %q", tc.header, rec.Body.String())
		}
	}
}

func TestRateLimitKeysByPrincipal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Auth(staticVerifier{"good": alice})(RateLimit(local.NewRateLimiter(), 2, time.Minute, logger)(whoami()))

	do := func(token, ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if got := do("good", "10.0.0.1"); got != http.StatusOK {
			t.Fatalf("request %d: %d", i, got)
		}
	}
	if got := do("good", "10.0.0.2"); got != http.StatusTooManyRequests {
		t.Fatalf("principal limit not shared across IPs: %d", got)
	}
	if got := do("", "10.0.0.1"); got != http.StatusOK {
		t.Fatalf("anonymous request from same IP: %d", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := extractClientIP(req); got != "192.0.2.1" {
		t.Fatalf("remote addr: %s", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := extractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("xff: %s", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(whoami())
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight: %d %v", rec.Code, rec.Header())
	}
}
