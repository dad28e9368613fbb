package principal

import (
	"maps"

	"github.com/jrsteele09/go-oidc-session/internal/utils"
)

// Standard claim names.
const (
	ClaimSubject     = "sub"
	ClaimName        = "name"
	ClaimEmail       = "email"
	ClaimRoles       = "roles"
	ClaimAccessToken = "access_token"
)

// Principal is the authenticated user as described by the identity provider's
// ID token. Claims are used verbatim; nothing is renamed on the way in.
type Principal struct {
	claims    map[string]any
	nameClaim string
	roleClaim string
}

// Option configures which claims carry the display name and the roles.
type Option func(*Principal)

func WithNameClaim(claim string) Option {
	return func(p *Principal) {
		if claim != "" {
			p.nameClaim = claim
		}
	}
}

func WithRoleClaim(claim string) Option {
	return func(p *Principal) {
		if claim != "" {
			p.roleClaim = claim
		}
	}
}

// FromClaims copies claims into a new Principal.
func FromClaims(claims map[string]any, opts ...Option) *Principal {
	p := &Principal{
		claims:    maps.Clone(claims),
		nameClaim: ClaimName,
		roleClaim: ClaimRoles,
	}
	if p.claims == nil {
		p.claims = map[string]any{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Claims returns a copy of the claim set.
func (p *Principal) Claims() map[string]any {
	if p == nil {
		return nil
	}
	return maps.Clone(p.claims)
}

func (p *Principal) Claim(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.claims[key]
	return v, ok
}

func (p *Principal) Has(key string) bool {
	_, ok := p.Claim(key)
	return ok
}

func (p *Principal) StringClaim(key string) string {
	v, _ := p.Claim(key)
	s, _ := v.(string)
	return s
}

func (p *Principal) Subject() string {
	return p.StringClaim(ClaimSubject)
}

func (p *Principal) Name() string {
	if p == nil {
		return ""
	}
	return p.StringClaim(p.nameClaim)
}

func (p *Principal) Email() string {
	return p.StringClaim(ClaimEmail)
}

// Roles accepts the role claim as a single string or an array.
func (p *Principal) Roles() []string {
	if p == nil {
		return nil
	}
	return utils.StringSlice(p.claims[p.roleClaim])
}

func (p *Principal) IsInRole(role string) bool {
	for _, r := range p.Roles() {
		if r == role {
			return true
		}
	}
	return false
}

// NameClaim and RoleClaim report the configured claim types so that a
// Principal can be rebuilt after decoding.
func (p *Principal) NameClaim() string {
	return p.nameClaim
}

func (p *Principal) RoleClaim() string {
	return p.roleClaim
}

// With returns a copy of p with one claim replaced.
func (p *Principal) With(key string, value any) *Principal {
	c := FromClaims(p.Claims(), WithNameClaim(p.nameClaim), WithRoleClaim(p.roleClaim))
	c.claims[key] = value
	return c
}
