package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	configFileEnvVar = "CONFIG_FILE"

	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	envEnvVar      = "ENV"
	logLevelEnvVar = "LOG_LEVEL"

	// AuthServerSettings section
	authorityEnvVar       = "AUTHSERVER_AUTHORITY"
	clientIDEnvVar        = "AUTHSERVER_CLIENT_ID"
	clientSecretEnvVar    = "AUTHSERVER_CLIENT_SECRET"
	scopesEnvVar          = "AUTHSERVER_SCOPES"
	extraScopesEnvVar     = "AUTHSERVER_EXTRA_SCOPES"
	requireHTTPSEnvVar    = "AUTHSERVER_REQUIRE_HTTPS_METADATA"
	nameClaimEnvVar       = "AUTHSERVER_NAME_CLAIM"
	roleClaimEnvVar       = "AUTHSERVER_ROLE_CLAIM"
	publicURLEnvVar       = "PUBLIC_URL"
	oidcHTTPTimeoutEnvVar = "AUTHSERVER_HTTP_TIMEOUT"

	cookieNameEnvVar     = "COOKIE_NAME"
	cookieSecretsEnvVar  = "COOKIE_SECRETS"
	cookieSecureEnvVar   = "COOKIE_SECURE"
	cookieSameSiteEnvVar = "COOKIE_SAME_SITE"
	cookieDomainEnvVar   = "COOKIE_DOMAIN"

	skewEnvVar           = "SESSION_SKEW"
	refreshTimeoutEnvVar = "SESSION_REFRESH_TIMEOUT"
	lifetimeEnvVar       = "SESSION_LIFETIME"
	refreshDedupEnvVar   = "SESSION_REFRESH_DEDUP"
	attachTokenEnvVar    = "SESSION_ATTACH_ACCESS_TOKEN_CLAIM"

	redisAddrEnvVar     = "REDIS_ADDR"
	redisPasswordEnvVar = "REDIS_PASSWORD"
	redisDBEnvVar       = "REDIS_DB"

	routePrefixEnvVar = "ROUTE_PREFIX"
)

// applyEnv overrides settings with any environment variables that are set.
func applyEnv(s *Settings) {
	s.App.Port = GetEnv(portEnvVar, s.App.Port)
	s.App.Name = GetEnv(appNameVar, s.App.Name)
	s.App.Env = GetEnv(envEnvVar, s.App.Env)
	s.App.LogLevel = GetEnv(logLevelEnvVar, s.App.LogLevel)

	s.OIDC.Authority = GetEnv(authorityEnvVar, s.OIDC.Authority)
	s.OIDC.ClientID = GetEnv(clientIDEnvVar, s.OIDC.ClientID)
	s.OIDC.ClientSecret = Secret(GetEnv(clientSecretEnvVar, string(s.OIDC.ClientSecret)))
	s.OIDC.Scopes = getEnvList(scopesEnvVar, s.OIDC.Scopes)
	s.OIDC.ExtraScopes = getEnvList(extraScopesEnvVar, s.OIDC.ExtraScopes)
	s.OIDC.RequireHTTPSMetadata = getEnvBool(requireHTTPSEnvVar, s.OIDC.RequireHTTPSMetadata)
	s.OIDC.NameClaim = GetEnv(nameClaimEnvVar, s.OIDC.NameClaim)
	s.OIDC.RoleClaim = GetEnv(roleClaimEnvVar, s.OIDC.RoleClaim)
	s.OIDC.PublicURL = GetEnv(publicURLEnvVar, s.OIDC.PublicURL)
	s.OIDC.HTTPTimeout = getEnvDuration(oidcHTTPTimeoutEnvVar, s.OIDC.HTTPTimeout)

	s.Cookie.Name = GetEnv(cookieNameEnvVar, s.Cookie.Name)
	s.Cookie.Secrets = getEnvList(cookieSecretsEnvVar, s.Cookie.Secrets)
	s.Cookie.Secure = getEnvBool(cookieSecureEnvVar, s.Cookie.Secure)
	s.Cookie.SameSite = GetEnv(cookieSameSiteEnvVar, s.Cookie.SameSite)
	s.Cookie.Domain = GetEnv(cookieDomainEnvVar, s.Cookie.Domain)

	s.Session.Skew = getEnvDuration(skewEnvVar, s.Session.Skew)
	s.Session.RefreshTimeout = getEnvDuration(refreshTimeoutEnvVar, s.Session.RefreshTimeout)
	s.Session.Lifetime = getEnvDuration(lifetimeEnvVar, s.Session.Lifetime)
	s.Session.RefreshDedup = GetEnv(refreshDedupEnvVar, s.Session.RefreshDedup)
	s.Session.AttachAccessTokenClaim = getEnvBool(attachTokenEnvVar, s.Session.AttachAccessTokenClaim)

	s.Redis.Addr = GetEnv(redisAddrEnvVar, s.Redis.Addr)
	s.Redis.Password = Secret(GetEnv(redisPasswordEnvVar, string(s.Redis.Password)))
	s.Redis.DB = getEnvInt(redisDBEnvVar, s.Redis.DB)

	s.Routes.Prefix = GetEnv(routePrefixEnvVar, s.Routes.Prefix)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma or space separated variable.
func getEnvList(envVar string, defaultValue []string) []string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
}

func getEnvBool(envVar string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(envVar string, defaultValue int) int {
	i, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return d
}
