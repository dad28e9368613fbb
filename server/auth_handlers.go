package server

import (
	"net/http"

	"github.com/rs/zerolog/hlog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/session"
)

const (
	stateLength = 32
	nonceLength = 32
)

// LoginHandler starts the authorization code flow. State, nonce and the PKCE
// verifier travel in the flow cookie until the callback.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := session.Flow{
			State:     generateRandomString(stateLength),
			Nonce:     generateRandomString(nonceLength),
			Verifier:  oauth2.GenerateVerifier(),
			ReturnURL: auth.LocalReturnURL(r.URL.Query().Get(paramReturnURL), RouteHome),
		}
		if err := s.flow.Start(w, r, flow); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("failed to start login flow")
			http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
			return
		}

		var extra []oauth2.AuthCodeOption
		if prompt := r.URL.Query().Get(paramPrompt); prompt == "login" || prompt == "select_account" {
			extra = append(extra, oauth2.SetAuthURLParam(paramPrompt, prompt))
		}
		redirectExternal(w, r, s.authn.AuthCodeURL(flow.State, flow.Nonce, flow.Verifier, extra...))
	}
}

// CallbackHandler completes the flow started by LoginHandler.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)

		flow, err := s.flow.Take(w, r)
		if err != nil {
			logger.Info().Err(err).Msg("callback without a pending login")
			redirectWithError(w, r, RouteHome, "Your sign-in attempt expired, please try again")
			return
		}

		if providerErr := r.FormValue("error"); providerErr != "" {
			logger.Info().
				Str("error", providerErr).
				Str("error_description", r.FormValue("error_description")).
				Msg("provider declined the login")
			redirectWithError(w, r, RouteHome, "Sign-in was not completed")
			return
		}

		if err := auth.ValidateState(flow.State, r.FormValue("state")); err != nil {
			logger.Warn().Err(err).Msg("callback state rejected")
			http.Error(w, "400 - Bad Request", http.StatusBadRequest)
			return
		}

		code := r.FormValue("code")
		if code == "" {
			http.Error(w, "400 - Bad Request", http.StatusBadRequest)
			return
		}

		grant, err := s.authn.Exchange(r.Context(), code, flow.Verifier, flow.Nonce)
		if err != nil {
			logger.Error().Err(err).Msg("authorization code exchange failed")
			redirectWithError(w, r, RouteHome, "Sign-in failed, please try again")
			return
		}

		sess, encoded, err := s.validator.Establish(grant)
		if err != nil {
			logger.Error().Err(err).Msg("failed to establish session")
			redirectWithError(w, r, RouteHome, "Sign-in failed, please try again")
			return
		}
		s.cookies.Write(w, r, encoded, sess.ExpiresAt)

		logger.Info().Str("sub", sess.Principal.Subject()).Msg("signed in")
		redirectSuccess(w, r, flow.ReturnURL)
	}
}

// LogoutHandler removes the local session, revokes the refresh token and,
// when the provider supports it, hands the browser to its end-session
// endpoint. Revocation is best effort.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)

		raw, present := s.cookies.Read(r)
		s.cookies.Clear(w, r)
		if !present {
			redirectSuccess(w, r, RouteHome)
			return
		}

		sess, err := s.validator.Decode(raw)
		if err != nil {
			logger.Debug().Err(err).Msg("unreadable session at logout")
			redirectSuccess(w, r, RouteHome)
			return
		}

		if rt := sess.Tokens.RefreshToken; rt != "" {
			if err := s.authn.Revoke(r.Context(), rt, "refresh_token"); err != nil {
				logger.Warn().Err(err).Msg("refresh token revocation failed")
			}
		}
		logger.Info().Str("sub", sess.Principal.Subject()).Msg("signed out")

		postLogout := s.absoluteURL(r, s.config.GetSignedOutCallbackPath())
		target, ok := s.authn.EndSessionURL(sess.Tokens.IDToken, postLogout, "")
		if !ok {
			redirectSuccess(w, r, RouteHome)
			return
		}
		redirectExternal(w, r, target)
	}
}

// SignedOutHandler is where the provider returns the browser after logout.
func (s *Server) SignedOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectSuccess(w, r, RouteHome)
	}
}

// redirectExternal sends the browser to another origin. HTMX requests get an
// HX-Redirect so the whole page navigates.
func redirectExternal(w http.ResponseWriter, r *http.Request, target string) {
	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
