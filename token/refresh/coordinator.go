package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jrsteele09/go-oidc-session/token"
)

// Func performs one refresh exchange with the identity provider.
type Func func(ctx context.Context) (*token.Grant, error)

// Coordinator decides how concurrent refreshes of the same refresh token are
// combined. Several requests from one browser can find the same expired
// access token at once; providers that rotate refresh tokens accept only the
// first exchange and reject the rest.
type Coordinator interface {
	Do(ctx context.Context, refreshToken string, fn Func) (*token.Grant, error)
}

// None runs every refresh independently. Losing a race against a rotating
// provider ends that request's session and the user signs in again.
func None() Coordinator {
	return none{}
}

type none struct{}

func (none) Do(ctx context.Context, _ string, fn Func) (*token.Grant, error) {
	return fn(ctx)
}

// Key identifies a refresh token without storing or logging it.
func Key(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
