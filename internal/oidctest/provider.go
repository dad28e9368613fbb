// Package oidctest runs an in-process OpenID Connect provider for tests. It
// implements discovery, JWKS, the authorization endpoint (which approves every
// request), the token endpoint for the authorization_code and refresh_token
// grants, revocation and RP-initiated logout.
package oidctest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/token/keys"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-client-secret"

	DefaultSubject = "user-123"
)

// Provider is a running test identity provider.
type Provider struct {
	server *httptest.Server
	signer keys.Signer
	keys   *keys.KeyPair
	clock  clockwork.Clock

	mu             sync.Mutex
	claims         map[string]any
	accessTTL      time.Duration
	idTokenTTL     time.Duration
	omitExpiresIn  bool
	endSession     bool
	rotateRefresh  bool
	refreshIDToken bool
	refreshError   string
	nonce          *string
	gate           chan struct{}
	release        func()
	codes          map[string]authCode
	refreshTokens  map[string]bool
	refreshCalls   int
	revoked        []string
	endSessions    []url.Values
}

type authCode struct {
	redirectURI string
	challenge   string
	nonce       string
	scope       string
}

type Option func(*Provider)

// WithClock sets the clock used for iat and exp in issued ID tokens.
func WithClock(c clockwork.Clock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

// WithClaims adds claims to every ID token.
func WithClaims(claims map[string]any) Option {
	return func(p *Provider) {
		for k, v := range claims {
			p.claims[k] = v
		}
	}
}

// WithAccessTokenTTL sets expires_in for issued access tokens.
func WithAccessTokenTTL(d time.Duration) Option {
	return func(p *Provider) {
		p.accessTTL = d
	}
}

// WithoutExpiresIn omits expires_in from token responses.
func WithoutExpiresIn() Option {
	return func(p *Provider) {
		p.omitExpiresIn = true
	}
}

// WithoutEndSession removes end_session_endpoint from discovery.
func WithoutEndSession() Option {
	return func(p *Provider) {
		p.endSession = false
	}
}

// WithoutRefreshRotation keeps the same refresh token across refreshes.
func WithoutRefreshRotation() Option {
	return func(p *Provider) {
		p.rotateRefresh = false
	}
}

// WithoutRefreshIDToken stops the refresh grant from returning an ID token.
func WithoutRefreshIDToken() Option {
	return func(p *Provider) {
		p.refreshIDToken = false
	}
}

// New starts a provider that is shut down when the test ends.
func New(t testing.TB, opts ...Option) *Provider {
	t.Helper()

	kp, err := keys.GenerateRSAKeyPair("oidctest-key", 2048)
	require.NoError(t, err)

	p := &Provider{
		signer: keys.NewKeyPairSigner(kp),
		keys:   kp,
		clock:  clockwork.NewRealClock(),
		claims: map[string]any{
			"sub":   DefaultSubject,
			"name":  "Test User",
			"email": "test.user@example.com",
			"roles": []string{"reader"},
		},
		accessTTL:      time.Hour,
		idTokenTTL:     time.Hour,
		endSession:     true,
		rotateRefresh:  true,
		refreshIDToken: true,
		codes:          map[string]authCode{},
		refreshTokens:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(p)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /jwks", p.handleJWKS)
	mux.HandleFunc("GET /authorize", p.handleAuthorize)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("POST /revoke", p.handleRevoke)
	mux.HandleFunc("GET /end-session", p.handleEndSession)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *Provider) Close() {
	p.mu.Lock()
	release := p.release
	p.mu.Unlock()
	if release != nil {
		release()
	}
	p.server.Close()
}

// Issuer is the provider's authority URL.
func (p *Provider) Issuer() string {
	return p.server.URL
}

func (p *Provider) URL(path string) string {
	return p.server.URL + path
}

func (p *Provider) Signer() keys.Signer {
	return p.signer
}

// SetClaim replaces a claim in subsequently issued ID tokens.
func (p *Provider) SetClaim(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims[key] = value
}

func (p *Provider) SetAccessTokenTTL(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTTL = d
}

// FailRefresh makes the refresh grant answer with the given OAuth error code.
// An empty code restores normal behaviour.
func (p *Provider) FailRefresh(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshError = code
}

// SetNonce forces the nonce placed in ID tokens issued for codes.
func (p *Provider) SetNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = &nonce
}

// HoldRefresh parks refresh requests until the returned func is called.
func (p *Provider) HoldRefresh() (release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	var once sync.Once
	release = func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
				p.release = nil
			}
			p.mu.Unlock()
			close(gate)
		})
	}
	p.gate = gate
	p.release = release
	return release
}

func (p *Provider) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

// Revoked lists tokens posted to the revocation endpoint.
func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// EndSessions lists the query of every end-session request received.
func (p *Provider) EndSessions() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.endSessions...)
}

// IssueRefreshToken registers a refresh token without a login, for tests that
// build sessions by hand.
func (p *Provider) IssueRefreshToken() string {
	rt := randomString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens[rt] = true
	return rt
}

// Authorize follows an authorization URL the way a browser would and returns
// the callback URL the provider redirected to.
func (p *Provider) Authorize(t testing.TB, authURL string) *url.URL {
	t.Helper()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := resp.Location()
	require.NoError(t, err)
	return loc
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := discoveryDocument{
		Issuer:                            p.server.URL,
		AuthorizationEndpoint:             p.URL("/authorize"),
		TokenEndpoint:                     p.URL("/token"),
		JWKSURI:                           p.URL("/jwks"),
		RevocationEndpoint:                p.URL("/revoke"),
		ResponseTypesSupported:            []string{"code"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{keys.RS256},
		ScopesSupported:                   []string{"openid", "profile", "email", "offline_access"},
		GrantTypesSupported:               []string{string(AuthorizationCodeGrant), string(RefreshTokenGrant)},
		CodeChallengeMethodsSupported:     []string{string(CodeMethodS256)},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	}
	p.mu.Lock()
	if p.endSession {
		doc.EndSessionEndpoint = p.URL("/end-session")
	}
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.keys.JWKS())
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("client_id") != ClientID:
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	case q.Get("response_type") != "code":
		http.Error(w, "unsupported response_type", http.StatusBadRequest)
		return
	case q.Get("code_challenge") == "" || q.Get("code_challenge_method") != string(CodeMethodS256):
		http.Error(w, "pkce required", http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirect.IsAbs() {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := uuid.NewString()
	p.mu.Lock()
	p.codes[code] = authCode{
		redirectURI: q.Get("redirect_uri"),
		challenge:   q.Get("code_challenge"),
		nonce:       q.Get("nonce"),
		scope:       q.Get("scope"),
	}
	p.mu.Unlock()

	params := redirect.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRequest, "malformed form")
		return
	}
	if !clientAuthenticated(r) {
		writeError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
		return
	}

	switch GrantType(r.PostForm.Get("grant_type")) {
	case AuthorizationCodeGrant:
		p.exchangeCode(w, r)
	case RefreshTokenGrant:
		p.refresh(w, r)
	default:
		writeError(w, http.StatusBadRequest, errUnsupported, "")
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	code, ok := p.codes[r.PostForm.Get("code")]
	delete(p.codes, r.PostForm.Get("code"))
	p.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "unknown or used code")
		return
	}
	if code.redirectURI != r.PostForm.Get("redirect_uri") {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "redirect_uri mismatch")
		return
	}
	if s256(r.PostForm.Get("code_verifier")) != code.challenge {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "code_verifier mismatch")
		return
	}

	p.mu.Lock()
	nonce := code.nonce
	if p.nonce != nil {
		nonce = *p.nonce
	}
	resp, err := p.issue(nonce, true, code.scope)
	p.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) refresh(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.refreshCalls++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refreshError != "" {
		writeError(w, http.StatusBadRequest, p.refreshError, "refresh rejected")
		return
	}
	rt := r.PostForm.Get("refresh_token")
	if !p.refreshTokens[rt] {
		writeError(w, http.StatusBadRequest, errInvalidGrant, "unknown refresh token")
		return
	}

	resp, err := p.issue("", p.refreshIDToken, r.PostForm.Get("scope"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if p.rotateRefresh {
		delete(p.refreshTokens, rt)
	} else {
		delete(p.refreshTokens, resp.RefreshToken)
		resp.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, resp)
}

// issue must be called with p.mu held.
func (p *Provider) issue(nonce string, withIDToken bool, scope string) (*TokenResponse, error) {
	now := p.clock.Now()
	resp := &TokenResponse{
		AccessToken:  randomString(),
		TokenType:    "Bearer",
		RefreshToken: randomString(),
		Scope:        scope,
	}
	if !p.omitExpiresIn {
		resp.ExpiresIn = int(p.accessTTL / time.Second)
	}
	p.refreshTokens[resp.RefreshToken] = true

	if !withIDToken {
		return resp, nil
	}
	claims := jwt.MapClaims{}
	for k, v := range p.claims {
		claims[k] = v
	}
	claims["iss"] = p.server.URL
	claims["aud"] = ClientID
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(p.idTokenTTL).Unix()
	claims["at_hash"] = atHash(resp.AccessToken)
	if nonce != "" {
		claims["nonce"] = nonce
	}
	idToken, err := p.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	resp.IDToken = idToken
	return resp, nil
}

func (p *Provider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !clientAuthenticated(r) {
		writeError(w, http.StatusUnauthorized, errInvalidClient, "")
		return
	}
	tok := r.PostForm.Get("token")
	p.mu.Lock()
	p.revoked = append(p.revoked, tok)
	delete(p.refreshTokens, tok)
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleEndSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p.mu.Lock()
	p.endSessions = append(p.endSessions, q)
	p.mu.Unlock()

	target := q.Get("post_logout_redirect_uri")
	if target == "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("signed out"))
		return
	}
	u, err := url.Parse(target)
	if err != nil {
		http.Error(w, "invalid post_logout_redirect_uri", http.StatusBadRequest)
		return
	}
	if state := q.Get("state"); state != "" {
		params := u.Query()
		params.Set("state", state)
		u.RawQuery = params.Encode()
	}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func clientAuthenticated(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	return id == ClientID && secret == ClientSecret
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func atHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

func randomString() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return strings.TrimRight(base64.RawURLEncoding.EncodeToString(b), "=")
}
