package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/internal/metrics"
	"github.com/jrsteele09/go-oidc-session/session"
)

// Authenticator is the part of the OIDC client the HTTP surface drives.
type Authenticator interface {
	auth.CodeExchanger
	AuthCodeURL(state, nonce, verifier string, extra ...oauth2.AuthCodeOption) string
	EndSessionURL(idTokenHint, postLogoutRedirectURI, state string) (string, bool)
	Revoke(ctx context.Context, tok, hint string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Authenticator Authenticator
	Validator     *auth.Validator
	Cookies       *session.CookieJar
	Flow          *session.FlowCookie
	// Metrics is optional; without it /metrics is not registered.
	Metrics      *metrics.Prometheus
	HealthChecks map[string]HealthCheck
}

type Server struct {
	env    string
	mux    *http.ServeMux
	routes []string
	config config.Config

	authn     Authenticator
	validator *auth.Validator
	cookies   *session.CookieJar
	flow      *session.FlowCookie
	metrics   *metrics.Prometheus
	checks    map[string]HealthCheck
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Authenticator == nil || deps.Validator == nil || deps.Cookies == nil || deps.Flow == nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "[Server New] authenticator, validator, cookie jar and flow cookie are required")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		authn:     deps.Authenticator,
		validator: deps.Validator,
		cookies:   deps.Cookies,
		flow:      deps.Flow,
		metrics:   deps.Metrics,
		checks:    deps.HealthChecks,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// RegisterRouteHandler adds a route; with metrics enabled the handler is
// instrumented under its pattern.
func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	if s.metrics != nil {
		handler = s.metrics.Instrument(pattern, handler)
	}
	s.mux.Handle(pattern, handler)
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != config.EnvDev {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func displayMethod(method string) string {
	if method == "" {
		method = "ANY"
	}
	return methodColour(method) + fmt.Sprintf(" %-7s", method) + ansiReset
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", displayMethod(method), path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// absoluteURL resolves path against the configured public URL, or the
// request's own scheme and host when none is configured.
func (s *Server) absoluteURL(r *http.Request, path string) string {
	if base := strings.TrimSuffix(s.config.GetPublicURL(), "/"); base != "" {
		return base + path
	}
	return getScheme(r) + "://" + r.Host + path
}
