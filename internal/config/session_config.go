package config

import "time"

// Refresh de-duplication modes.
const (
	DedupNone  = "none"
	DedupLocal = "local"
	DedupRedis = "redis"
)

type SessionConfig interface {
	GetSkew() time.Duration
	GetRefreshTimeout() time.Duration
	GetSessionLifetime() time.Duration
	GetFlowLifetime() time.Duration
	GetRefreshDedup() string
	GetDedupResultTTL() time.Duration
	GetAttachAccessTokenClaim() bool
}

type SessionSettings struct {
	Skew                   time.Duration `yaml:"skew" validate:"gte=0"`
	RefreshTimeout         time.Duration `yaml:"refresh_timeout" validate:"gt=0"`
	Lifetime               time.Duration `yaml:"lifetime" validate:"gt=0"`
	FlowLifetime           time.Duration `yaml:"flow_lifetime" validate:"gt=0"`
	RefreshDedup           string        `yaml:"refresh_dedup" validate:"oneof=none local redis"`
	DedupResultTTL         time.Duration `yaml:"dedup_result_ttl" validate:"gt=0"`
	AttachAccessTokenClaim bool          `yaml:"attach_access_token_claim"`
}

func (c *mainConfig) GetSkew() time.Duration {
	return c.s.Session.Skew
}

func (c *mainConfig) GetRefreshTimeout() time.Duration {
	return c.s.Session.RefreshTimeout
}

func (c *mainConfig) GetSessionLifetime() time.Duration {
	return c.s.Session.Lifetime
}

func (c *mainConfig) GetFlowLifetime() time.Duration {
	return c.s.Session.FlowLifetime
}

func (c *mainConfig) GetRefreshDedup() string {
	return c.s.Session.RefreshDedup
}

func (c *mainConfig) GetDedupResultTTL() time.Duration {
	return c.s.Session.DedupResultTTL
}

func (c *mainConfig) GetAttachAccessTokenClaim() bool {
	return c.s.Session.AttachAccessTokenClaim
}
