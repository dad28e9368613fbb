package config_test

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/internal/errors"
)

const secret = "0123456789abcdef0123456789abcdef"

func validSettings() config.Settings {
	s := config.Defaults()
	s.OIDC.Authority = "https://login.example.com"
	s.OIDC.ClientID = "web"
	s.OIDC.ClientSecret = "shh"
	s.Cookie.Secrets = []string{secret}
	return s
}

func TestFromSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c, err := config.FromSettings(validSettings())
		require.NoError(t, err)

		require.Equal(t, ":8080", c.GetPort())
		require.Equal(t, config.EnvDev, c.GetEnv())
		require.True(t, c.IsDevelopment())
		require.Equal(t, 2*time.Minute, c.GetSkew())
		require.Equal(t, 10*time.Second, c.GetRefreshTimeout())
		require.Equal(t, 8*time.Hour, c.GetSessionLifetime())
		require.Equal(t, "__session", c.GetCookieName())
		require.True(t, c.GetCookieSecure())
		require.Equal(t, http.SameSiteLaxMode, c.GetCookieSameSite())
		require.Equal(t, "/authentication", c.GetRoutePrefix())
		require.Equal(t, "/signin-oidc", c.GetCallbackPath())
		require.Equal(t, "/signout-callback-oidc", c.GetSignedOutCallbackPath())
		require.Equal(t, []string{"openid", "profile", "email", "offline_access"}, c.GetScopes())
		require.Equal(t, "name", c.GetNameClaim())
		require.Equal(t, "roles", c.GetRoleClaim())
		require.Equal(t, config.DedupNone, c.GetRefreshDedup())
	})

	t.Run("scopes are normalised", func(t *testing.T) {
		s := validSettings()
		s.OIDC.Scopes = []string{"profile", "profile"}
		s.OIDC.ExtraScopes = []string{"api://orders/read", "offline_access"}
		c, err := config.FromSettings(s)
		require.NoError(t, err)
		require.Equal(t, []string{"openid", "profile", "offline_access", "api://orders/read"}, c.GetScopes())
	})

	t.Run("trailing slash on prefix", func(t *testing.T) {
		s := validSettings()
		s.Routes.Prefix = "/auth/"
		c, err := config.FromSettings(s)
		require.NoError(t, err)
		require.Equal(t, "/auth", c.GetRoutePrefix())
	})

	t.Run("strict same site", func(t *testing.T) {
		s := validSettings()
		s.Cookie.SameSite = "Strict"
		c, err := config.FromSettings(s)
		require.NoError(t, err)
		require.Equal(t, http.SameSiteStrictMode, c.GetCookieSameSite())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Settings)
		want   string
	}{
		{"missing authority", func(s *config.Settings) { s.OIDC.Authority = "" }, "Authority"},
		{"missing client id", func(s *config.Settings) { s.OIDC.ClientID = "" }, "ClientID"},
		{"http authority", func(s *config.Settings) { s.OIDC.Authority = "http://login.example.com" }, "must use https"},
		{"relaxed https in prod", func(s *config.Settings) {
			s.OIDC.Authority = "http://login.example.com"
			s.OIDC.RequireHTTPSMetadata = false
			s.App.Env = config.EnvProd
		}, "may only be relaxed"},
		{"no cookie secrets", func(s *config.Settings) { s.Cookie.Secrets = nil }, "Secrets"},
		{"short cookie secret", func(s *config.Settings) { s.Cookie.Secrets = []string{"short"} }, "at least 32 bytes"},
		{"same site none", func(s *config.Settings) { s.Cookie.SameSite = "none" }, "SameSite"},
		{"insecure cookie in prod", func(s *config.Settings) {
			s.Cookie.Secure = false
			s.App.Env = config.EnvProd
		}, "cookie.secure"},
		{"cookie name separators", func(s *config.Settings) { s.Cookie.Name = "a;b" }, "separator"},
		{"skew longer than lifetime", func(s *config.Settings) { s.Session.Skew = 9 * time.Hour }, "session.skew"},
		{"unknown dedup", func(s *config.Settings) { s.Session.RefreshDedup = "memcached" }, "RefreshDedup"},
		{"redis dedup without address", func(s *config.Settings) { s.Session.RefreshDedup = config.DedupRedis }, "redis.addr"},
		{"relative callback", func(s *config.Settings) { s.Routes.Callback = "signin-oidc" }, "Callback"},
		{"bad log level", func(s *config.Settings) { s.App.LogLevel = "loud" }, "LogLevel"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(&s)
			err := config.Validate(s)
			require.ErrorIs(t, err, errors.ErrConfiguration)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("all problems reported together", func(t *testing.T) {
		s := validSettings()
		s.OIDC.ClientID = ""
		s.Cookie.Secrets = []string{"short"}
		err := config.Validate(s)
		require.ErrorIs(t, err, errors.ErrConfiguration)
		require.Contains(t, err.Error(), "ClientID")
		require.Contains(t, err.Error(), "at least 32 bytes")
	})

	t.Run("relaxed https outside prod", func(t *testing.T) {
		s := validSettings()
		s.OIDC.Authority = "http://localhost:5001"
		s.OIDC.RequireHTTPSMetadata = false
		require.NoError(t, config.Validate(s))
	})
}

func TestNew(t *testing.T) {
	t.Run("file then environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: Orders
  port: "9000"
auth_server_settings:
  authority: https://login.example.com
  client_id: orders-web
  client_secret: from-file
  extra_scopes: [orders.read]
cookie:
  secrets: [`+secret+`]
session:
  skew: 30s
  refresh_dedup: local
`), 0o600))

		t.Setenv("AUTHSERVER_CLIENT_SECRET", "from-env")
		t.Setenv("SESSION_REFRESH_TIMEOUT", "3s")

		c, err := config.New(path)
		require.NoError(t, err)
		require.Equal(t, "Orders", c.GetAppName())
		require.Equal(t, ":9000", c.GetPort())
		require.Equal(t, "orders-web", c.GetClientID())
		require.Equal(t, "from-env", c.GetClientSecret())
		require.Equal(t, 30*time.Second, c.GetSkew())
		require.Equal(t, 3*time.Second, c.GetRefreshTimeout())
		require.Equal(t, config.DedupLocal, c.GetRefreshDedup())
		require.Contains(t, c.GetScopes(), "orders.read")
	})

	t.Run("config file from environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("auth_server_settings:\n  client_id: env-file\n"), 0o600))
		t.Setenv("CONFIG_FILE", path)
		t.Setenv("AUTHSERVER_AUTHORITY", "https://login.example.com")
		t.Setenv("COOKIE_SECRETS", secret)

		c, err := config.New("")
		require.NoError(t, err)
		require.Equal(t, "env-file", c.GetClientID())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.New(filepath.Join(t.TempDir(), "absent.yaml"))
		require.ErrorIs(t, err, errors.ErrConfiguration)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("app: [unterminated"), 0o600))
		_, err := config.New(path)
		require.ErrorIs(t, err, errors.ErrConfiguration)
	})
}

func TestSecretsAreRedacted(t *testing.T) {
	c, err := config.FromSettings(validSettings())
	require.NoError(t, err)

	out := c.(interface{ String() string }).String()
	require.NotContains(t, out, "shh")
	require.NotContains(t, out, secret)
	require.True(t, strings.Contains(out, "REDACTED"))

	require.Equal(t, "[REDACTED: client secret]", config.Secret("shh").String())
	require.Equal(t, "shh", config.Secret("shh").Reveal())
}
