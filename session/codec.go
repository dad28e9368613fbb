package session

import (
	"github.com/jonboulle/clockwork"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/token"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// Codec turns a Session into the opaque cookie value and back.
//
// Decode fails with ErrSessionInvalid for corrupt, tampered or foreign input
// and with ErrSessionExpired once the cookie's own lifetime has elapsed.
type Codec interface {
	Encode(s *Session) (string, error)
	Decode(raw string) (*Session, error)
}

type JWECodec struct {
	sealer    *keys.Sealer
	clock     clockwork.Clock
	nameClaim string
	roleClaim string
}

var _ Codec = (*JWECodec)(nil)

type CodecOption func(*JWECodec)

func WithClock(clock clockwork.Clock) CodecOption {
	return func(c *JWECodec) {
		c.clock = clock
	}
}

// WithClaimTypes sets the claim types used when rebuilding the Principal.
func WithClaimTypes(nameClaim, roleClaim string) CodecOption {
	return func(c *JWECodec) {
		c.nameClaim = nameClaim
		c.roleClaim = roleClaim
	}
}

func NewJWECodec(ring *keys.Keyring, opts ...CodecOption) *JWECodec {
	c := &JWECodec{
		sealer: keys.NewSealer(ring),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type payload struct {
	Claims     map[string]any `json:"pc"`
	Tokens     token.Set      `json:"tk"`
	Generation int            `json:"gen,omitempty"`
}

func (c *JWECodec) Encode(s *Session) (string, error) {
	if s == nil || s.Principal == nil {
		return "", errors.Wrapf(errors.ErrSessionInvalid, "[JWECodec Encode] no principal")
	}
	if err := s.Tokens.Validate(); err != nil {
		return "", errors.Wrapf(err, "[JWECodec Encode]")
	}
	if !s.ExpiresAt.After(s.IssuedAt) {
		return "", errors.Wrapf(errors.ErrSessionInvalid, "[JWECodec Encode] expires before it is issued")
	}
	raw, err := c.sealer.Seal(payload{
		Claims:     s.Principal.Claims(),
		Tokens:     s.Tokens,
		Generation: s.Generation,
	}, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		return "", errors.Wrapf(err, "[JWECodec Encode]")
	}
	return raw, nil
}

func (c *JWECodec) Decode(raw string) (*Session, error) {
	var p payload
	std, err := c.sealer.Open(raw, c.clock.Now(), &p)
	switch {
	case errors.Is(err, errors.ErrTokenExpired):
		return nil, errors.Wrapf(errors.ErrSessionExpired, "[JWECodec Decode] %s", err)
	case err != nil:
		return nil, errors.Wrapf(errors.ErrSessionInvalid, "[JWECodec Decode] %s", err)
	}
	if err := p.Tokens.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrSessionInvalid, "[JWECodec Decode] %s", err)
	}

	return &Session{
		Principal:  principal.FromClaims(p.Claims, principal.WithNameClaim(c.nameClaim), principal.WithRoleClaim(c.roleClaim)),
		Tokens:     p.Tokens,
		IssuedAt:   std.IssuedAt.Time(),
		ExpiresAt:  std.Expiry.Time(),
		Generation: p.Generation,
	}, nil
}
