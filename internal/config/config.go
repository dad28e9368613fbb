package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
)

// Config is evaluated once at startup and handed to the components that need
// it. Every getter returns an already validated value.
type Config interface {
	EnvConfig
	OIDCConfig
	CookieConfig
	SessionConfig
	RedisConfig
	ServerConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsDevelopment() bool
}

const (
	EnvDev  = "DEV"
	EnvProd = "PROD"
)

// Settings is the full configuration document. Field names mirror the YAML
// file; environment variables override individual fields.
type Settings struct {
	App     AppSettings     `yaml:"app"`
	OIDC    OIDCSettings    `yaml:"auth_server_settings"`
	Cookie  CookieSettings  `yaml:"cookie"`
	Session SessionSettings `yaml:"session"`
	Redis   RedisSettings   `yaml:"redis"`
	Routes  RouteSettings   `yaml:"routes"`
}

type AppSettings struct {
	Name     string `yaml:"name" validate:"required"`
	Port     string `yaml:"port" validate:"required"`
	Env      string `yaml:"env" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
}

type mainConfig struct {
	s Settings
}

var _ Config = (*mainConfig)(nil)

// Defaults returns the settings used when neither the config file nor the
// environment provide a value.
func Defaults() Settings {
	return Settings{
		App: AppSettings{
			Name:     "Go OIDC Session",
			Port:     "8080",
			Env:      EnvDev,
			LogLevel: "info",
		},
		OIDC: OIDCSettings{
			Scopes:               []string{"openid", "profile", "email", "offline_access"},
			RequireHTTPSMetadata: true,
			NameClaim:            "name",
			RoleClaim:            "roles",
			HTTPTimeout:          15 * time.Second,
		},
		Cookie: CookieSettings{
			Name:     "__session",
			Secure:   true,
			SameSite: "lax",
			Path:     "/",
		},
		Session: SessionSettings{
			Skew:                   2 * time.Minute,
			RefreshTimeout:         10 * time.Second,
			Lifetime:               8 * time.Hour,
			FlowLifetime:           10 * time.Minute,
			RefreshDedup:           DedupNone,
			DedupResultTTL:         30 * time.Second,
			AttachAccessTokenClaim: true,
		},
		Redis: RedisSettings{
			KeyPrefix: "oidc-session:",
		},
		Routes: RouteSettings{
			Prefix:            "/authentication",
			Callback:          "/signin-oidc",
			SignedOutCallback: "/signout-callback-oidc",
		},
	}
}

// New loads the configuration from defaults, the optional YAML file at path
// and the environment, then validates it. Any problem is reported as
// ErrConfiguration.
func New(path string) (Config, error) {
	s := Defaults()
	if path == "" {
		path = os.Getenv(configFileEnvVar)
	}
	if path != "" {
		if err := loadFile(path, &s); err != nil {
			return nil, errors.Wrapf(errors.ErrConfiguration, "[config New] %s", err)
		}
	}
	applyEnv(&s)
	return FromSettings(s)
}

// FromSettings validates s and wraps it as a Config.
func FromSettings(s Settings) (Config, error) {
	s.OIDC.Scopes = normaliseScopes(s.OIDC.Scopes, s.OIDC.ExtraScopes)
	if err := Validate(s); err != nil {
		return nil, err
	}
	return &mainConfig{s: s}, nil
}

func loadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules that span several fields. All
// problems are returned together.
func Validate(s Settings) error {
	var result *multierror.Error

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result = multierror.Append(result, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	if s.OIDC.Authority != "" && !strings.HasPrefix(s.OIDC.Authority, "https://") {
		if s.OIDC.RequireHTTPSMetadata {
			result = multierror.Append(result, fmt.Errorf("authority %q must use https when require_https_metadata is set", s.OIDC.Authority))
		} else if strings.EqualFold(s.App.Env, EnvProd) {
			result = multierror.Append(result, fmt.Errorf("require_https_metadata may only be relaxed outside %s", EnvProd))
		}
	}
	if !hasScope(s.OIDC.Scopes, "offline_access") {
		result = multierror.Append(result, fmt.Errorf("scopes must include offline_access for silent renewal"))
	}
	if !s.Cookie.Secure && strings.EqualFold(s.App.Env, EnvProd) {
		result = multierror.Append(result, fmt.Errorf("cookie.secure may only be disabled outside %s", EnvProd))
	}
	if strings.ContainsAny(s.Cookie.Name, cookieNameSeparators) {
		result = multierror.Append(result, fmt.Errorf("cookie.name %q contains separator characters", s.Cookie.Name))
	}
	for i, secret := range s.Cookie.Secrets {
		if len(secret) < MinSecretLength {
			result = multierror.Append(result, fmt.Errorf("cookie.secrets[%d]: must be at least %d bytes", i, MinSecretLength))
		}
	}
	if s.Session.Skew >= s.Session.Lifetime {
		result = multierror.Append(result, fmt.Errorf("session.skew must be shorter than session.lifetime"))
	}
	if s.Session.RefreshDedup == DedupRedis && s.Redis.Addr == "" {
		result = multierror.Append(result, fmt.Errorf("redis.addr is required when session.refresh_dedup is %q", DedupRedis))
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(errors.ErrConfiguration, "[config Validate] %s", err)
	}
	return nil
}

func (c *mainConfig) Settings() Settings {
	return c.s
}

func (c *mainConfig) GetPort() string {
	port := c.s.App.Port
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (c *mainConfig) GetAppName() string {
	return c.s.App.Name
}

func (c *mainConfig) GetEnv() string {
	return strings.ToUpper(c.s.App.Env)
}

func (c *mainConfig) GetLogLevel() string {
	return c.s.App.LogLevel
}

func (c *mainConfig) IsDevelopment() bool {
	return c.GetEnv() == EnvDev
}

func (c *mainConfig) String() string {
	return fmt.Sprintf("config{env=%s authority=%s client_id=%s client_secret=%s cookie=%s secrets=%s dedup=%s}",
		c.GetEnv(), c.s.OIDC.Authority, c.s.OIDC.ClientID, c.s.OIDC.ClientSecret,
		c.s.Cookie.Name, redactedSecrets(len(c.s.Cookie.Secrets)), c.s.Session.RefreshDedup)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// normaliseScopes makes sure openid and offline_access are always requested
// and appends the extra API scopes without duplicates.
func normaliseScopes(scopes, extra []string) []string {
	out := make([]string, 0, len(scopes)+len(extra)+2)
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add("openid")
	for _, s := range scopes {
		add(s)
	}
	add("offline_access")
	for _, s := range extra {
		add(s)
	}
	return out
}
