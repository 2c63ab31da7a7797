package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

const issuer = "bit-oracle"

// Claims are the session claims. Subject carries the checksummed principal.
type Claims struct {
	jwt.RegisteredClaims
}

// JWT signs and verifies HS256 session tokens.
type JWT struct {
	Secret   []byte
	TokenTTL time.Duration
	now      func() time.Time
}

func (j JWT) clock() time.Time {
	if j.now != nil {
		return j.now().UTC()
	}
	return time.Now().UTC()
}

// Sign issues a token for who.
func (j JWT) Sign(who domain.Principal) (token string, expiresAt time.Time, err error) {
	if len(j.Secret) == 0 {
		return "", time.Time{}, errors.New("auth: jwt secret is empty")
	}
	now := j.clock()
	expiresAt = now.Add(j.TokenTTL)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   who.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return s, expiresAt, nil
}

// Verify checks a token and returns the principal it was issued to.
func (j JWT) Verify(token string) (domain.Principal, error) {
	opts := []jwt.ParserOption{jwt.WithIssuer(issuer), jwt.WithExpirationRequired()}
	if j.now != nil {
		opts = append(opts, jwt.WithTimeFunc(j.clock))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}
	who, err := domain.ParsePrincipal(c.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: bad subject", domain.ErrUnauthenticated)
	}
	return who, nil
}
