package oidctest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/internal/config"
)

// CookieSecret is long enough to pass config validation.
const CookieSecret = "oidctest-cookie-secret-0123456789abcdef"

// Settings returns default settings pointed at the provider. Metadata over
// plain http is allowed because httptest does not use TLS.
func (p *Provider) Settings() config.Settings {
	s := config.Defaults()
	s.OIDC.Authority = p.Issuer()
	s.OIDC.ClientID = ClientID
	s.OIDC.ClientSecret = config.Secret(ClientSecret)
	s.OIDC.RequireHTTPSMetadata = false
	s.Cookie.Secrets = []string{CookieSecret}
	s.Cookie.Secure = false
	return s
}

// Config validates s and fails the test on error.
func Config(t testing.TB, s config.Settings) config.Config {
	t.Helper()
	cfg, err := config.FromSettings(s)
	require.NoError(t, err)
	return cfg
}
