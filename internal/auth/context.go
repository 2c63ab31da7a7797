// Package auth turns wallet signatures into API sessions: a caller asks for
// a single-use challenge, signs it with their key, and exchanges the
// signature for a JWT whose subject is their principal.
package auth

import (
	"context"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

type ctxKey int

const principalKey ctxKey = 1

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, who domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, who)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	who, ok := ctx.Value(principalKey).(domain.Principal)
	return who, ok && !who.IsZero()
}
