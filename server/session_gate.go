package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/session"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the validated *session.Session
	ContextKeySession ContextKey = "session"
	// ContextKeyState stores the auth.State the gate finished in
	ContextKeyState ContextKey = "session_state"
)

// SessionGate validates the session cookie before the wrapped handler runs.
// A renewed session is written back to the response and a rejected one is
// cleared. The gate never redirects; anonymous requests carry no Principal
// and policy is left to RequireAuthenticated or the handler.
func (s *Server) SessionGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, present := s.cookies.Read(r)
		res := s.validator.Validate(r.Context(), raw, present)

		switch res.Cookie {
		case auth.CookieSet:
			s.cookies.Write(w, r, res.Encoded, res.Session.ExpiresAt)
		case auth.CookieClear:
			s.cookies.Clear(w, r)
		}

		ctx := context.WithValue(r.Context(), ContextKeyState, res.State)
		if res.Authenticated() {
			ctx = context.WithValue(ctx, ContextKeySession, res.Session)
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("sub", res.Session.Principal.Subject())
			})
		}
		next(w, r.WithContext(ctx))
	}
}

// RequireAuthenticated sends anonymous browsers to the login route and
// answers anything else with 401.
func (s *Server) RequireAuthenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFrom(r.Context()) != nil {
			next(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "401 - Unauthorized", http.StatusUnauthorized)
			return
		}
		login := s.config.GetRoutePrefix() + RouteLogin + "?" + paramReturnURL + "=" + url.QueryEscape(r.URL.RequestURI())
		redirectSuccess(w, r, login)
	}
}

// SessionFrom returns the session the gate validated, or nil.
func SessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(ContextKeySession).(*session.Session)
	return s
}

// PrincipalFrom returns the authenticated principal, or nil.
func PrincipalFrom(ctx context.Context) *principal.Principal {
	if s := SessionFrom(ctx); s != nil {
		return s.Principal
	}
	return nil
}

// StateFrom returns the state the gate finished in. Requests that did not
// pass through the gate report NoSession.
func StateFrom(ctx context.Context) auth.State {
	st, ok := ctx.Value(ContextKeyState).(auth.State)
	if !ok {
		return auth.NoSession
	}
	return st
}
