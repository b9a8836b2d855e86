package models

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents custom JWT claims
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// UserContext is the caller identity attached to a request.
type UserContext struct {
	UserID string
	Role   string
}

type userContextKey struct{}

// WithUser attaches the caller identity to ctx
func WithUser(ctx context.Context, u UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the caller identity, if any
func UserFromContext(ctx context.Context) (UserContext, bool) {
	u, ok := ctx.Value(userContextKey{}).(UserContext)
	return u, ok
}
