package auth

import (
	"context"

	"github.com/jrsteele09/go-oidc-session/token"
)

// TokenRefresher performs the refresh_token grant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*token.Grant, error)
}

// CodeExchanger redeems an authorization code after login.
type CodeExchanger interface {
	Exchange(ctx context.Context, code, verifier, nonce string) (*token.Grant, error)
}
