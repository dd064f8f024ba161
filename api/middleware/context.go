package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgAuth "github.com/angelmondragon/rentflow-backend/pkg/auth"
)

type contextKey string

const ctxClaims contextKey = "access_claims"

// WithClaims injects verified token claims into the context.
func WithClaims(ctx context.Context, claims *pkgAuth.AccessTokenClaims) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxClaims, claims)
}

func ClaimsFromContext(ctx context.Context) *pkgAuth.AccessTokenClaims {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxClaims).(*pkgAuth.AccessTokenClaims); ok {
		return v
	}
	return nil
}

func SubjectIDFromContext(ctx context.Context) uuid.UUID {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.SubjectID
	}
	return uuid.Nil
}

// AgentIDFromContext returns the delivery agent the caller acts as, if any.
func AgentIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil || claims.AgentID == nil || *claims.AgentID == uuid.Nil {
		return uuid.Nil, false
	}
	return *claims.AgentID, true
}
