package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const appleIssuer = "https://appleid.apple.com"

var ErrInvalidIdentityToken = errors.New("invalid Apple identity token")

type AppleClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// IdentityTokenVerifier checks a Sign in with Apple identity token.
type IdentityTokenVerifier interface {
	Verify(ctx context.Context, identityToken string) (*AppleClaims, error)
}

// AppleVerifier validates identity tokens against Apple's JWKS, which is
// cached and refreshed in the background.
type AppleVerifier struct {
	keys     jwk.Set
	audience string
	now      func() time.Time
}

func NewAppleVerifier(ctx context.Context, jwksURL, bundleID string) (*AppleVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register Apple JWKS: %w", err)
	}
	return &AppleVerifier{
		keys:     jwk.NewCachedSet(cache, jwksURL),
		audience: bundleID,
		now:      time.Now,
	}, nil
}

func (v *AppleVerifier) Verify(ctx context.Context, identityToken string) (*AppleClaims, error) {
	if identityToken == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidIdentityToken)
	}

	t, err := jwt.ParseString(identityToken,
		jwt.WithKeySet(v.keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(v.audience),
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentityToken, err)
	}
	if t.Subject() == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidIdentityToken)
	}

	email, _ := t.Get("email")
	verified, _ := t.Get("email_verified")
	return &AppleClaims{
		Subject:       t.Subject(),
		Email:         str(email),
		EmailVerified: boolVal(verified),
	}, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Apple sends email_verified either as a bool or as the string "true".
func boolVal(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}
