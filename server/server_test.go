package server_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/internal/metrics"
	"github.com/jrsteele09/go-oidc-session/internal/oidctest"
	"github.com/jrsteele09/go-oidc-session/oidcclient"
	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/server"
	"github.com/jrsteele09/go-oidc-session/session"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

type testFixture struct {
	provider *oidctest.Provider
	cfg      config.Config
	app      *httptest.Server
	server   *server.Server
	browser  *http.Client
	cookies  http.CookieJar
}

func setupTestFixture(t *testing.T, opts ...oidctest.Option) *testFixture {
	return newFixture(t, nil, opts...)
}

// newFixture wires the real OIDC client, validator and cookies against an
// in-process provider. mutate may adjust the dependencies before the server
// is built.
func newFixture(t *testing.T, mutate func(*server.Deps), opts ...oidctest.Option) *testFixture {
	t.Helper()

	p := oidctest.New(t, opts...)
	cfg := oidctest.Config(t, p.Settings())

	var handler http.Handler = http.NotFoundHandler()
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(app.Close)

	client, err := oidcclient.New(context.Background(), cfg, app.URL+cfg.GetCallbackPath())
	require.NoError(t, err)

	ring, err := keys.NewKeyring(cfg.GetCookieSecrets()...)
	require.NoError(t, err)
	jar := session.NewCookieJar(cfg.GetCookieName(),
		session.WithSecure(cfg.GetCookieSecure()),
		session.WithSameSite(cfg.GetCookieSameSite()),
		session.WithPath(cfg.GetCookiePath()),
	)
	m := metrics.New(nil)
	validator := auth.NewValidator(
		session.NewJWECodec(ring, session.WithClaimTypes(cfg.GetNameClaim(), cfg.GetRoleClaim())),
		client,
		auth.WithSkew(cfg.GetSkew()),
		auth.WithRefreshTimeout(cfg.GetRefreshTimeout()),
		auth.WithSessionLifetime(cfg.GetSessionLifetime()),
		auth.WithClaimTypes(cfg.GetNameClaim(), cfg.GetRoleClaim()),
		auth.WithClaimsTransform(principal.AttachAccessToken),
		auth.WithRecorder(m),
	)

	deps := server.Deps{
		Authenticator: client,
		Validator:     validator,
		Cookies:       jar,
		Flow:          session.NewFlowCookie(jar, ring, cfg.GetFlowLifetime()),
		Metrics:       m,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := server.New(cfg, deps)
	require.NoError(t, err)
	handler = srv

	cookies, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{
		Jar: cookies,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testFixture{provider: p, cfg: cfg, app: app, server: srv, browser: browser, cookies: cookies}
}

func (f *testFixture) do(t *testing.T, method, target string, header http.Header) (*http.Response, string) {
	t.Helper()
	if strings.HasPrefix(target, "/") {
		target = f.app.URL + target
	}
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.browser.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (f *testFixture) get(t *testing.T, target string) (*http.Response, string) {
	t.Helper()
	return f.do(t, http.MethodGet, target, nil)
}

func (f *testFixture) loginPath(returnURL string) string {
	return f.cfg.GetRoutePrefix() + server.RouteLogin + "?returnUrl=" + url.QueryEscape(returnURL)
}

// login runs the browser through the code flow and returns the callback
// response.
func (f *testFixture) login(t *testing.T, returnURL string) *http.Response {
	t.Helper()
	resp, _ := f.get(t, f.loginPath(returnURL))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	callback := f.provider.Authorize(t, resp.Header.Get("Location"))
	resp, _ = f.get(t, callback.String())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	return resp
}

// browserCookie returns the named cookie as the browser would send it.
func (f *testFixture) browserCookie(name string) *http.Cookie {
	u, _ := url.Parse(f.app.URL)
	for _, c := range f.cookies.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// cleared reports whether resp deletes the named cookie.
func cleared(resp *http.Response, name string) bool {
	for _, c := range resp.Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestLogin(t *testing.T) {
	t.Run("redirects to the provider", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, f.loginPath("/profile"))
		require.Equal(t, http.StatusFound, resp.StatusCode)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, f.provider.URL("/authorize"), loc.Scheme+"://"+loc.Host+loc.Path)
		q := loc.Query()
		require.GreaterOrEqual(t, len(q.Get("state")), auth.MinStateLength)
		require.NotEmpty(t, q.Get("nonce"))
		require.Equal(t, "S256", q.Get("code_challenge_method"))
		require.Equal(t, f.app.URL+"/signin-oidc", q.Get("redirect_uri"))
		require.NotNil(t, f.browserCookie(f.cfg.GetCookieName()+"_flow"))
	})

	t.Run("prompt is forwarded", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, f.loginPath("/")+"&prompt=login")
		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, "login", loc.Query().Get("prompt"))
	})

	t.Run("round trip", func(t *testing.T) {
		f := setupTestFixture(t)
		resp := f.login(t, "/profile")
		require.Equal(t, "/profile", resp.Header.Get("Location"))
		require.NotNil(t, f.browserCookie(f.cfg.GetCookieName()))
		require.Nil(t, f.browserCookie(f.cfg.GetCookieName()+"_flow"))

		resp, body := f.get(t, "/profile")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "Test User")
		require.Contains(t, body, "test.user@example.com")
		require.NotContains(t, body, principal.ClaimAccessToken)
		require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	})

	t.Run("return url must be local", func(t *testing.T) {
		f := setupTestFixture(t)
		resp := f.login(t, "https://evil.example.com/steal")
		require.Equal(t, "/", resp.Header.Get("Location"))
	})

	t.Run("callback without a pending login", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, "/signin-oidc?code=abc&state=0123456789abcdef0123")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/?error="))
		require.Nil(t, f.browserCookie(f.cfg.GetCookieName()))
	})

	t.Run("state mismatch", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, f.loginPath("/"))
		callback := f.provider.Authorize(t, resp.Header.Get("Location"))
		q := callback.Query()
		q.Set("state", "forged-state-forged-state")
		callback.RawQuery = q.Encode()

		resp, _ = f.get(t, callback.String())
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Nil(t, f.browserCookie(f.cfg.GetCookieName()))
	})

	t.Run("flow cannot be replayed", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, f.loginPath("/"))
		callback := f.provider.Authorize(t, resp.Header.Get("Location"))

		resp, _ = f.get(t, callback.String())
		require.Equal(t, "/", resp.Header.Get("Location"))
		resp, _ = f.get(t, callback.String())
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/?error="))
	})

	t.Run("provider error", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, f.loginPath("/"))
		state, _ := url.Parse(resp.Header.Get("Location"))

		resp, _ = f.get(t, "/signin-oidc?error=access_denied&state="+state.Query().Get("state"))
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/?error="))
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.SetNonce("not-the-nonce")
		resp := f.login(t, "/")
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/?error="))
		require.Nil(t, f.browserCookie(f.cfg.GetCookieName()))
	})
}

func TestSessionGate(t *testing.T) {
	t.Run("anonymous page", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, body := f.get(t, "/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "You are not signed in")
		require.Empty(t, resp.Cookies())
	})

	t.Run("protected page sends anonymous users to login", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, "/profile")
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, f.loginPath("/profile"), resp.Header.Get("Location"))
	})

	t.Run("htmx requests get HX-Redirect", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/profile", http.Header{"Hx-Request": {"true"}})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, f.loginPath("/profile"), resp.Header.Get("HX-Redirect"))
	})

	t.Run("valid session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "/")

		resp, body := f.get(t, "/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "Signed in as <strong>Test User</strong>")
		require.Contains(t, body, "reader")
		require.Empty(t, resp.Cookies())
		require.Equal(t, 0, f.provider.RefreshCalls())
	})

	t.Run("tampered cookie is cleared", func(t *testing.T) {
		f := setupTestFixture(t)
		name := f.cfg.GetCookieName()
		resp, body := f.do(t, http.MethodGet, "/", http.Header{"Cookie": {name + "=not-a-session"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "You are not signed in")
		require.True(t, cleared(resp, name))
	})

	t.Run("expiring token is refreshed", func(t *testing.T) {
		f := setupTestFixture(t)
		// Inside the two minute skew, so the next request must refresh.
		f.provider.SetAccessTokenTTL(90 * time.Second)
		f.login(t, "/")
		before := f.browserCookie(f.cfg.GetCookieName()).Value

		f.provider.SetAccessTokenTTL(time.Hour)
		resp, body := f.get(t, "/profile")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "Silent refreshes</dt><dd>1</dd>")
		require.Equal(t, 1, f.provider.RefreshCalls())
		require.NotEqual(t, before, f.browserCookie(f.cfg.GetCookieName()).Value)

		resp, _ = f.get(t, "/profile")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, f.provider.RefreshCalls())
	})

	t.Run("failed refresh signs out", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.SetAccessTokenTTL(90 * time.Second)
		f.login(t, "/")
		f.provider.FailRefresh("invalid_grant")

		resp, body := f.get(t, "/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "You are not signed in")
		require.True(t, cleared(resp, f.cfg.GetCookieName()))
		require.Nil(t, f.browserCookie(f.cfg.GetCookieName()))
	})

	t.Run("tokens shorter than the skew keep the session", func(t *testing.T) {
		f := setupTestFixture(t, oidctest.WithAccessTokenTTL(2*time.Minute))
		f.login(t, "/")

		resp, body := f.get(t, "/profile")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "Silent refreshes</dt><dd>1</dd>")
		require.False(t, cleared(resp, f.cfg.GetCookieName()))
		require.Equal(t, 1, f.provider.RefreshCalls())
	})
}

func TestLogout(t *testing.T) {
	t.Run("ends the provider session", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "/")

		resp, _ := f.do(t, http.MethodPost, f.cfg.GetRoutePrefix()+server.RouteLogout, nil)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		require.True(t, cleared(resp, f.cfg.GetCookieName()))
		require.Nil(t, f.browserCookie(f.cfg.GetCookieName()))
		require.Len(t, f.provider.Revoked(), 1)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, f.provider.URL("/end-session"), loc.Scheme+"://"+loc.Host+loc.Path)
		require.NotEmpty(t, loc.Query().Get("id_token_hint"))
		require.Equal(t, f.app.URL+"/signout-callback-oidc", loc.Query().Get("post_logout_redirect_uri"))

		resp, _ = f.get(t, loc.String())
		require.Equal(t, http.StatusFound, resp.StatusCode)
		resp, _ = f.get(t, resp.Header.Get("Location"))
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/", resp.Header.Get("Location"))
		require.Len(t, f.provider.EndSessions(), 1)
	})

	t.Run("provider without end session", func(t *testing.T) {
		f := setupTestFixture(t, oidctest.WithoutEndSession())
		f.login(t, "/")

		resp, _ := f.do(t, http.MethodPost, f.cfg.GetRoutePrefix()+server.RouteLogout, http.Header{"Sec-Fetch-Site": {"same-origin"}})
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/", resp.Header.Get("Location"))
		require.Len(t, f.provider.Revoked(), 1)
	})

	t.Run("is not reachable with GET", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "/")

		resp, _ := f.get(t, f.cfg.GetRoutePrefix()+server.RouteLogout)
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		require.False(t, cleared(resp, f.cfg.GetCookieName()))
		require.NotNil(t, f.browserCookie(f.cfg.GetCookieName()))
		require.Empty(t, f.provider.Revoked())
	})

	crossSite := []struct {
		name   string
		header http.Header
	}{
		{"fetch metadata", http.Header{"Sec-Fetch-Site": {"cross-site"}, "Referer": {"https://evil.example/"}}},
		{"same site but another origin", http.Header{"Sec-Fetch-Site": {"same-site"}}},
		{"origin only", http.Header{"Origin": {"https://evil.example"}}},
	}
	for _, tt := range crossSite {
		t.Run("refuses cross-site request: "+tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.login(t, "/")

			resp, _ := f.do(t, http.MethodPost, f.cfg.GetRoutePrefix()+server.RouteLogout, tt.header)
			require.Equal(t, http.StatusForbidden, resp.StatusCode)
			require.False(t, cleared(resp, f.cfg.GetCookieName()))
			require.NotNil(t, f.browserCookie(f.cfg.GetCookieName()))
			require.Empty(t, f.provider.Revoked())
		})
	}

	t.Run("accepts its own origin", func(t *testing.T) {
		f := setupTestFixture(t, oidctest.WithoutEndSession())
		f.login(t, "/")

		resp, _ := f.do(t, http.MethodPost, f.cfg.GetRoutePrefix()+server.RouteLogout, http.Header{"Origin": {f.app.URL}})
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.True(t, cleared(resp, f.cfg.GetCookieName()))
	})

	t.Run("anonymous", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.do(t, http.MethodPost, f.cfg.GetRoutePrefix()+server.RouteLogout, nil)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/", resp.Header.Get("Location"))
		require.Empty(t, f.provider.Revoked())
	})
}

func TestHealth(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, body := f.get(t, server.RouteHealth)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"status":"ok"}`, body)
	})

	t.Run("failing check", func(t *testing.T) {
		f := newFixture(t, func(d *server.Deps) {
			d.HealthChecks = map[string]server.HealthCheck{
				"redis": func(context.Context) error { return fmt.Errorf("connection refused") },
				"disk":  func(context.Context) error { return nil },
			}
		})
		resp, body := f.get(t, server.RouteHealth)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.JSONEq(t, `{"status":"unavailable","checks":{"redis":"connection refused","disk":"ok"}}`, body)
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("correlation id", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, "/")
		_, err := uuid.Parse(resp.Header.Get(server.CorrelationHeader))
		require.NoError(t, err)

		id := uuid.NewString()
		resp, _ = f.do(t, http.MethodGet, "/", http.Header{server.CorrelationHeader: {id}})
		require.Equal(t, id, resp.Header.Get(server.CorrelationHeader))

		resp, _ = f.do(t, http.MethodGet, "/", http.Header{server.CorrelationHeader: {"bad\tvalue"}})
		require.NotEqual(t, "bad\tvalue", resp.Header.Get(server.CorrelationHeader))
	})

	t.Run("frame security", func(t *testing.T) {
		f := setupTestFixture(t)
		resp, _ := f.get(t, "/")
		require.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
		require.Equal(t, "frame-ancestors 'self'", resp.Header.Get("Content-Security-Policy"))
	})

	t.Run("recover", func(t *testing.T) {
		f := setupTestFixture(t)
		h := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}, f.server.APIMiddleware()...)

		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("www redirect", func(t *testing.T) {
		f := setupTestFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Host = "www.app.example.com"
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusMovedPermanently, rec.Code)
		require.Equal(t, "https://app.example.com/profile", rec.Header().Get("Location"))
	})
}

func TestStaticAndMetrics(t *testing.T) {
	f := setupTestFixture(t)
	f.get(t, "/")

	resp, body := f.get(t, "/css/site.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/css"))
	require.Contains(t, resp.Header.Get("Cache-Control"), "max-age=300")
	require.Contains(t, body, "table.claims")

	resp, _ = f.get(t, "/css/missing.css")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.get(t, server.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `oidc_session_validations_total{state="NoSession"} 1`)
	require.Contains(t, body, `oidc_session_http_requests_total{method="GET",route="GET /css/{file}",status="200"} 1`)
}

func TestRoutes(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, []string{
		"GET /{$}",
		"GET /profile",
		"GET /authentication/login",
		"GET /signin-oidc",
		"POST /signin-oidc",
		"POST /authentication/logout",
		"GET /signout-callback-oidc",
		"GET /healthz",
		"GET /metrics",
		"GET /css/{file}",
	}, f.server.Routes())
}

func TestNew(t *testing.T) {
	p := oidctest.New(t)
	cfg := oidctest.Config(t, p.Settings())
	_, err := server.New(cfg, server.Deps{})
	require.ErrorIs(t, err, errors.ErrConfiguration)
}
