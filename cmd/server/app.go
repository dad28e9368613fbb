package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/internal/metrics"
	"github.com/jrsteele09/go-oidc-session/oidcclient"
	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/server"
	"github.com/jrsteele09/go-oidc-session/session"
	"github.com/jrsteele09/go-oidc-session/token/keys"
	"github.com/jrsteele09/go-oidc-session/token/refresh"
)

// newApp wires the application from c. cleanup releases connections opened
// along the way and must be called once the server has stopped.
func newApp(ctx context.Context, c config.Config) (http.Handler, func(), error) {
	redirectURI, err := callbackURL(c)
	if err != nil {
		return nil, nil, err
	}
	client, err := oidcclient.New(ctx, c, redirectURI)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "[newApp] identity provider")
	}
	if !client.SupportsEndSession() {
		log.Info().Msg("provider advertises no end_session_endpoint, sign-out only clears the local session")
	}

	ring, err := keys.NewKeyring(c.GetCookieSecrets()...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "[newApp] cookie keys")
	}
	jar := session.NewCookieJar(c.GetCookieName(),
		session.WithSecure(c.GetCookieSecure()),
		session.WithSameSite(c.GetCookieSameSite()),
		session.WithDomain(c.GetCookieDomain()),
		session.WithPath(c.GetCookiePath()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(reg)

	coordinator, checks, cleanup := newCoordinator(c, ring)

	opts := []auth.Option{
		auth.WithSkew(c.GetSkew()),
		auth.WithRefreshTimeout(c.GetRefreshTimeout()),
		auth.WithSessionLifetime(c.GetSessionLifetime()),
		auth.WithClaimTypes(c.GetNameClaim(), c.GetRoleClaim()),
		auth.WithCoordinator(coordinator),
		auth.WithRecorder(recorder),
	}
	if c.GetAttachAccessTokenClaim() {
		opts = append(opts, auth.WithClaimsTransform(principal.AttachAccessToken))
	}
	validator := auth.NewValidator(
		session.NewJWECodec(ring, session.WithClaimTypes(c.GetNameClaim(), c.GetRoleClaim())),
		client,
		opts...,
	)

	srv, err := server.New(c, server.Deps{
		Authenticator: client,
		Validator:     validator,
		Cookies:       jar,
		Flow:          session.NewFlowCookie(jar, ring, c.GetFlowLifetime()),
		Metrics:       recorder,
		HealthChecks:  checks,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return srv, cleanup, nil
}

// callbackURL is the redirect URI registered with the provider.
func callbackURL(c config.Config) (string, error) {
	base := strings.TrimSuffix(c.GetPublicURL(), "/")
	if base == "" {
		base = "http://localhost" + c.GetPort()
		log.Warn().Str("redirect_uri", base+c.GetCallbackPath()).Msg("no public url configured, assuming local development")
	}
	uri := base + c.GetCallbackPath()
	if err := auth.ValidateRedirectURI(uri); err != nil {
		return "", errors.Wrapf(err, "[callbackURL]")
	}
	return uri, nil
}

// newCoordinator selects how concurrent refreshes of one session are
// de-duplicated.
func newCoordinator(c config.Config, ring *keys.Keyring) (refresh.Coordinator, map[string]server.HealthCheck, func()) {
	switch c.GetRefreshDedup() {
	case config.DedupLocal:
		return refresh.NewLocal(c.GetRefreshTimeout(), refresh.WithLocalResultTTL(c.GetDedupResultTTL())), nil, func() {}
	case config.DedupRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		checks := map[string]server.HealthCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}
		coordinator := refresh.NewRedis(rdb, ring,
			refresh.WithKeyPrefix(c.GetRedisKeyPrefix()),
			refresh.WithResultTTL(c.GetDedupResultTTL()),
			refresh.WithLockTTL(2*c.GetRefreshTimeout()),
		)
		return coordinator, checks, func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis client")
			}
		}
	default:
		return refresh.None(), nil, func() {}
	}
}
