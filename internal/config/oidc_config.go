package config

import (
	"fmt"
	"time"
)

// OIDCConfig describes the identity provider and this application's client
// registration with it.
type OIDCConfig interface {
	GetAuthority() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetRequireHTTPSMetadata() bool
	GetNameClaim() string
	GetRoleClaim() string
	GetPublicURL() string
	GetHTTPTimeout() time.Duration
}

// OIDCSettings is the AuthServerSettings section.
type OIDCSettings struct {
	Authority            string        `yaml:"authority" validate:"required,url"`
	ClientID             string        `yaml:"client_id" validate:"required"`
	ClientSecret         Secret        `yaml:"client_secret"`
	Scopes               []string      `yaml:"scopes"`
	ExtraScopes          []string      `yaml:"extra_scopes"`
	RequireHTTPSMetadata bool          `yaml:"require_https_metadata"`
	NameClaim            string        `yaml:"name_claim" validate:"required"`
	RoleClaim            string        `yaml:"role_claim" validate:"required"`
	PublicURL            string        `yaml:"public_url" validate:"omitempty,url"`
	HTTPTimeout          time.Duration `yaml:"http_timeout" validate:"gt=0"`
}

// Secret keeps credentials out of logs and fmt output.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED: client secret]"
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) Reveal() string {
	return string(s)
}

func redactedSecrets(n int) string {
	return fmt.Sprintf("[REDACTED: %d secrets]", n)
}

func (c *mainConfig) GetAuthority() string {
	return c.s.OIDC.Authority
}

func (c *mainConfig) GetClientID() string {
	return c.s.OIDC.ClientID
}

func (c *mainConfig) GetClientSecret() string {
	return c.s.OIDC.ClientSecret.Reveal()
}

func (c *mainConfig) GetScopes() []string {
	return append([]string(nil), c.s.OIDC.Scopes...)
}

func (c *mainConfig) GetRequireHTTPSMetadata() bool {
	return c.s.OIDC.RequireHTTPSMetadata
}

func (c *mainConfig) GetNameClaim() string {
	return c.s.OIDC.NameClaim
}

func (c *mainConfig) GetRoleClaim() string {
	return c.s.OIDC.RoleClaim
}

// GetPublicURL is the externally visible base URL used to build redirect
// URIs. Empty means "derive from the request".
func (c *mainConfig) GetPublicURL() string {
	return c.s.OIDC.PublicURL
}

func (c *mainConfig) GetHTTPTimeout() time.Duration {
	return c.s.OIDC.HTTPTimeout
}
