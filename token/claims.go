package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the fields this client reads out of an identity token.
// The token is parsed without signature verification: validating it is the
// protected-resource authorizer's job, the client only needs the subject to
// key local state.
type IdentityClaims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// ParseIdentityClaims extracts claims from a raw identity token.
func ParseIdentityClaims(raw string) (*IdentityClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("token: parse identity token: %w", err)
	}

	out := &IdentityClaims{}
	if sub, ok := claims["sub"].(string); ok {
		out.UserID = sub
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if out.UserID == "" {
		return nil, fmt.Errorf("token: identity token has no subject")
	}
	return out, nil
}
