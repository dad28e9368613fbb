package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-oidc-session/principal"
)

const healthCheckTimeout = 2 * time.Second

// PageData is what the HTML templates render.
type PageData struct {
	AppName   string
	Error     string
	Principal *principal.Principal
	Claims    []ClaimRow
	LoginURL  string
	LogoutURL string
	// TokenExpiry and SessionExpiry are only set on the profile page.
	TokenExpiry   time.Time
	SessionExpiry time.Time
	Refreshes     int
}

type ClaimRow struct {
	Name  string
	Value any
}

func (s *Server) pageData(r *http.Request) PageData {
	prefix := s.config.GetRoutePrefix()
	return PageData{
		AppName:   s.config.GetAppName(),
		Error:     r.URL.Query().Get("error"),
		Principal: PrincipalFrom(r.Context()),
		LoginURL:  prefix + RouteLogin,
		LogoutURL: prefix + RouteLogout,
	}
}

// IndexHandler renders the home page
func (s *Server) IndexHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("index.html")
	if err != nil {
		panic("Failed to parse index template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, s.pageData(r)); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("rendering index")
		}
	}
}

// ProfileHandler lists the signed in user's claims. It sits behind
// RequireAuthenticated.
func (s *Server) ProfileHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("profile.html")
	if err != nil {
		panic("Failed to parse profile template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data := s.pageData(r)
		if sess := SessionFrom(r.Context()); sess != nil {
			data.Claims = claimRows(sess.Principal)
			data.TokenExpiry = sess.Tokens.Expiry
			data.SessionExpiry = sess.ExpiresAt
			data.Refreshes = sess.Generation
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := tmpl.Execute(w, data); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("rendering profile")
		}
	}
}

// claimRows sorts the claims by name and leaves out the attached access
// token.
func claimRows(p *principal.Principal) []ClaimRow {
	claims := p.Claims()
	rows := make([]ClaimRow, 0, len(claims))
	for name, value := range claims {
		if name == principal.ClaimAccessToken {
			continue
		}
		rows = append(rows, ClaimRow{Name: name, Value: value})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler runs every registered check concurrently and reports 503 if
// any of them fails.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		var mu sync.Mutex
		var g errgroup.Group
		for name, check := range s.checks {
			g.Go(func() error {
				err := check(ctx)
				mu.Lock()
				defer mu.Unlock()
				if resp.Checks == nil {
					resp.Checks = make(map[string]string)
				}
				if err != nil {
					resp.Checks[name] = err.Error()
					return err
				}
				resp.Checks[name] = "ok"
				return nil
			})
		}

		status := http.StatusOK
		if err := g.Wait(); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
