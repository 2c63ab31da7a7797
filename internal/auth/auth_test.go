package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/motunrayo-ayo/bit-oracle/internal/cache/local"
	"github.com/motunrayo-ayo/bit-oracle/internal/crypto"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestService(t *testing.T) (*Service, *crypto.Signer, domain.Principal) {
	t.Helper()
	signer, err := crypto.NewSigner(testKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	who, err := domain.ParsePrincipal(signer.Address().Hex())
	if err != nil {
		t.Fatalf("principal: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(local.NewChallengeStore(), JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}, time.Minute, logger)
	return svc, signer, who
}

func TestLoginRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, signer, who := newTestService(t)

	ch, err := svc.IssueChallenge(ctx, who)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if !strings.Contains(ch.Message, ch.Nonce) {
		t.Fatalf("message %q lacks nonce", ch.Message)
	}
	sig, err := signer.SignMessage([]byte(ch.Message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	sess, err := svc.Login(ctx, ch.Nonce, sig)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Principal != who {
		t.Fatalf("session principal %s", sess.Principal)
	}
	got, err := svc.Verify(sess.Token)
	if err != nil || got != who {
		t.Fatalf("verify: %s, %v", got, err)
	}

	if _, err := svc.Login(ctx, ch.Nonce, sig); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("replayed nonce: %v", err)
	}
}

func TestLoginRejectsOtherSigner(t *testing.T) {
	ctx := context.Background()
	svc, _, who := newTestService(t)

	other, err := crypto.NewSigner("8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	ch, err := svc.IssueChallenge(ctx, who)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	sig, _ := other.SignMessage([]byte(ch.Message))
	if _, err := svc.Login(ctx, ch.Nonce, sig); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("foreign signature: %v", err)
	}
	if _, err := svc.IssueChallenge(ctx, domain.Custody); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("custody challenge: %v", err)
	}
}

func TestJWTExpiryAndTampering(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	j := JWT{Secret: []byte("s"), TokenTTL: time.Minute, now: func() time.Time { return now }}
	who := domain.Principal("0x000000000000000000000000000000000000dEaD")

	tok, _, err := j.Sign(who)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got, err := j.Verify(tok); err != nil || got != who {
		t.Fatalf("verify: %s, %v", got, err)
	}

	wrong := JWT{Secret: []byte("other"), TokenTTL: time.Minute, now: j.now}
	if _, err := wrong.Verify(tok); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("wrong secret: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := j.Verify(tok); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("empty context has a principal")
	}
	who := domain.Principal("0x000000000000000000000000000000000000dEaD")
	got, ok := PrincipalFromContext(WithPrincipal(ctx, who))
	if !ok || got != who {
		t.Fatalf("principal: %s %v", got, ok)
	}
}
