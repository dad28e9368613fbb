package session

import (
	"time"

	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/token"
)

// Session is the authenticated browser session. The encrypted cookie is the
// only copy; nothing is kept server side.
type Session struct {
	Principal *principal.Principal
	Tokens    token.Set
	IssuedAt  time.Time
	// ExpiresAt is the absolute lifetime of the cookie, independent of the
	// access token expiry.
	ExpiresAt time.Time
	// Generation counts silent refreshes since login.
	Generation int
}

// Renew returns a copy carrying the refreshed tokens and principal.
func (s *Session) Renew(p *principal.Principal, tokens token.Set, now time.Time) *Session {
	return &Session{
		Principal:  p,
		Tokens:     tokens,
		IssuedAt:   now,
		ExpiresAt:  s.ExpiresAt,
		Generation: s.Generation + 1,
	}
}
