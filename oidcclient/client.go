package oidcclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-oidc-session/internal/config"
	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/token"
)

// Client is the relying-party side of the OpenID Connect exchange: discovery,
// the authorization-code grant with PKCE, the refresh-token grant, RP-initiated
// logout and token revocation.
type Client struct {
	provider   *oidc.Provider
	verifier   *oidc.IDTokenVerifier
	oauth      *oauth2.Config
	httpClient *http.Client

	endSessionURL string
	revocationURL string
}

type options struct {
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*options)

// WithHTTPClient replaces the pooled client used for every provider call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithNow sets the clock used when checking ID token expiry.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type discoveryClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
	RevocationEndpoint string `json:"revocation_endpoint"`
}

// New discovers the provider at cfg's authority. redirectURL is the absolute
// callback URL registered with the provider.
func New(ctx context.Context, cfg config.OIDCConfig, redirectURL string, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = cleanhttp.DefaultPooledClient()
		o.httpClient.Timeout = cfg.GetHTTPTimeout()
	}

	if cfg.GetRequireHTTPSMetadata() && !strings.HasPrefix(cfg.GetAuthority(), "https://") {
		return nil, errors.Wrapf(errors.ErrConfiguration, "[oidcclient New] authority %q is not https", cfg.GetAuthority())
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, o.httpClient), cfg.GetAuthority())
	if err != nil {
		return nil, errors.Wrapf(err, "[oidcclient New] discovery failed")
	}

	var dc discoveryClaims
	if err := provider.Claims(&dc); err != nil {
		return nil, errors.Wrapf(err, "[oidcclient New] discovery claims")
	}

	return &Client{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.GetClientID(),
			Now:      o.now,
		}),
		oauth: &oauth2.Config{
			ClientID:     cfg.GetClientID(),
			ClientSecret: cfg.GetClientSecret(),
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       cfg.GetScopes(),
		},
		httpClient:    o.httpClient,
		endSessionURL: dc.EndSessionEndpoint,
		revocationURL: dc.RevocationEndpoint,
	}, nil
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

// AuthCodeURL builds the authorization request: response_type=code, the
// nonce bound into the ID token and an S256 PKCE challenge for verifier.
func (c *Client) AuthCodeURL(state, nonce, verifier string, extra ...oauth2.AuthCodeOption) string {
	opts := append([]oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	}, extra...)
	return c.oauth.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code and verifies the returned ID token,
// including its nonce.
func (c *Client) Exchange(ctx context.Context, code, verifier, nonce string) (*token.Grant, error) {
	ctx = c.ctx(ctx)
	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, exchangeError("Exchange", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.Wrapf(errors.ErrMissingIDToken, "[oidcclient Exchange] %w", errors.ErrExchange)
	}
	idToken, claims, err := c.verify(ctx, rawIDToken, tok.AccessToken)
	if err != nil {
		return nil, errors.Wrapf(err, "[oidcclient Exchange]")
	}
	if idToken.Nonce != nonce {
		return nil, errors.Wrapf(errors.ErrInvalidNonce, "[oidcclient Exchange] %w", errors.ErrExchange)
	}

	return &token.Grant{Tokens: tokenSet(tok, idToken), IDClaims: claims}, nil
}

// Refresh performs the refresh_token grant. IDClaims is only set when the
// provider issued a new ID token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*token.Grant, error) {
	if refreshToken == "" {
		return nil, errors.Wrapf(errors.ErrRefreshTokenMissing, "[oidcclient Refresh] %w", errors.ErrExchange)
	}
	ctx = c.ctx(ctx)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, exchangeError("Refresh", err)
	}

	grant := &token.Grant{Tokens: token.FromOAuth2(tok)}
	if grant.Tokens.IDToken != "" {
		idToken, claims, err := c.verify(ctx, grant.Tokens.IDToken, tok.AccessToken)
		if err != nil {
			return nil, errors.Wrapf(err, "[oidcclient Refresh]")
		}
		grant.Tokens = tokenSet(tok, idToken)
		grant.IDClaims = claims
	}
	if grant.Tokens.Expiry.IsZero() {
		return nil, errors.Wrapf(errors.ErrExchange, "[oidcclient Refresh] provider returned no expiry")
	}
	return grant, nil
}

func (c *Client) verify(ctx context.Context, rawIDToken, accessToken string) (*oidc.IDToken, map[string]any, error) {
	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%w: id_token", errors.ErrExchange)
	}
	if idToken.AccessTokenHash != "" {
		if err := idToken.VerifyAccessToken(accessToken); err != nil {
			return nil, nil, errors.Wrapf(err, "%w: at_hash", errors.ErrExchange)
		}
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, errors.Wrapf(err, "%w: id_token claims", errors.ErrExchange)
	}
	return idToken, claims, nil
}

// tokenSet falls back to the ID token expiry when the provider omits
// expires_in, so the access token never lacks an expiry.
func tokenSet(tok *oauth2.Token, idToken *oidc.IDToken) token.Set {
	s := token.FromOAuth2(tok)
	if s.Expiry.IsZero() && idToken != nil {
		s.Expiry = idToken.Expiry
	}
	return s
}

// EndSessionURL builds the RP-initiated logout redirect. ok is false when the
// provider does not advertise an end_session_endpoint.
func (c *Client) EndSessionURL(idTokenHint, postLogoutRedirectURI, state string) (string, bool) {
	if c.endSessionURL == "" {
		return "", false
	}
	u, err := url.Parse(c.endSessionURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	q.Set("client_id", c.oauth.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// Revoke asks the provider to revoke tok (RFC 7009). Providers without a
// revocation_endpoint are skipped silently.
func (c *Client) Revoke(ctx context.Context, tok, hint string) error {
	if c.revocationURL == "" || tok == "" {
		return nil
	}
	form := url.Values{}
	form.Set("token", tok)
	form.Set("token_type_hint", hint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrapf(err, "[oidcclient Revoke]")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.oauth.ClientID), url.QueryEscape(c.oauth.ClientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[oidcclient Revoke]")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrExchange, "[oidcclient Revoke] unexpected status %s", resp.Status)
	}
	return nil
}

func (c *Client) SupportsEndSession() bool {
	return c.endSessionURL != ""
}

func exchangeError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return errors.Wrapf(errors.ErrInvalidGrant, "[oidcclient %s] %w: %s", op, errors.ErrExchange, re.ErrorDescription)
		}
		return errors.Wrapf(errors.ErrExchange, "[oidcclient %s] %s %s", op, re.ErrorCode, re.ErrorDescription)
	}
	return errors.Wrapf(err, "[oidcclient %s] %w", op, errors.ErrExchange)
}
