package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/motunrayo-ayo/bit-oracle/internal/crypto"
	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

// DefaultChallengeTTL bounds how long a nonce can be signed and redeemed.
const DefaultChallengeTTL = 5 * time.Minute

// Challenge is what a caller must sign to log in.
type Challenge struct {
	Nonce     string           `json:"nonce"`
	Principal domain.Principal `json:"principal"`
	Message   string           `json:"message"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string           `json:"token"`
	Principal domain.Principal `json:"principal"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Service issues challenges and exchanges signed ones for tokens.
type Service struct {
	challenges domain.ChallengeStore
	jwt        JWT
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a Service. A non-positive ttl uses DefaultChallengeTTL.
func NewService(challenges domain.ChallengeStore, jwt JWT, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Service{
		challenges: challenges,
		jwt:        jwt,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "auth")),
	}
}

// ChallengeMessage is the exact text a wallet signs for nonce.
func ChallengeMessage(who domain.Principal, nonce string) string {
	return fmt.Sprintf("bit-oracle login\naddress: %s\nnonce: %s", who, nonce)
}

// IssueChallenge records a fresh nonce for who.
func (s *Service) IssueChallenge(ctx context.Context, who domain.Principal) (Challenge, error) {
	if who.IsZero() || who == domain.Custody {
		return Challenge{}, fmt.Errorf("auth: challenge: %w", domain.ErrInvalidParameter)
	}
	nonce := uuid.NewString()
	if err := s.challenges.Put(ctx, nonce, who, s.ttl); err != nil {
		return Challenge{}, fmt.Errorf("auth: store challenge: %w", err)
	}
	return Challenge{
		Nonce:     nonce,
		Principal: who,
		Message:   ChallengeMessage(who, nonce),
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}, nil
}

// Login redeems a nonce. The signature must be the challenged principal's
// EIP-191 signature over ChallengeMessage. A nonce is consumed by the first
// attempt whether or not the signature checks out.
func (s *Service) Login(ctx context.Context, nonce, signature string) (Session, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return Session{}, fmt.Errorf("auth: login: %w: missing nonce", domain.ErrInvalidParameter)
	}
	who, err := s.challenges.Take(ctx, nonce)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, fmt.Errorf("auth: login: %w: unknown or expired nonce", domain.ErrUnauthenticated)
		}
		return Session{}, fmt.Errorf("auth: take challenge: %w", err)
	}

	if err := crypto.VerifyMessage(common.HexToAddress(who.String()), []byte(ChallengeMessage(who, nonce)), signature); err != nil {
		s.logger.WarnContext(ctx, "login signature rejected",
			slog.String("principal", who.String()),
			slog.String("error", err.Error()),
		)
		return Session{}, fmt.Errorf("auth: login: %w: bad signature", domain.ErrUnauthenticated)
	}

	token, exp, err := s.jwt.Sign(who)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "login", slog.String("principal", who.String()))
	return Session{Token: token, Principal: who, ExpiresAt: exp}, nil
}

// Verify resolves a bearer token to its principal.
func (s *Service) Verify(token string) (domain.Principal, error) {
	return s.jwt.Verify(token)
}
