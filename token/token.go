package token

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
)

// Set is the token material carried inside a session: the current access
// token and its expiry, the refresh token (which may be absent) and the raw
// ID token used as a hint when signing out at the provider.
type Set struct {
	AccessToken  string    `json:"at,omitempty"`
	TokenType    string    `json:"tt,omitempty"`
	Expiry       time.Time `json:"exp"`
	RefreshToken string    `json:"rt,omitempty"`
	IDToken      string    `json:"idt,omitempty"`
}

// Grant is the result of a code or refresh exchange. IDClaims is nil when the
// provider did not return a new ID token.
type Grant struct {
	Tokens   Set
	IDClaims map[string]any
}

// FromOAuth2 converts an x/oauth2 token, picking up the id_token extra field.
func FromOAuth2(t *oauth2.Token) Set {
	if t == nil {
		return Set{}
	}
	s := Set{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
		RefreshToken: t.RefreshToken,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		s.IDToken = idToken
	}
	return s
}

// Validate enforces that an access token always comes with an expiry.
func (s Set) Validate() error {
	if s.AccessToken == "" {
		return errors.Wrapf(errors.ErrInvalidToken, "[token Validate] access token missing")
	}
	if s.Expiry.IsZero() {
		return errors.Wrapf(errors.ErrInvalidToken, "[token Validate] access token has no expiry")
	}
	return nil
}

// NeedsRefresh reports whether now has reached expiry minus skew.
func (s Set) NeedsRefresh(now time.Time, skew time.Duration) bool {
	return !now.Before(s.Expiry.Add(-skew))
}

// CanRefresh reports whether silent renewal is possible at all.
func (s Set) CanRefresh() bool {
	return s.RefreshToken != ""
}

// Merge applies the tokens returned by a refresh. Providers that do not rotate
// refresh tokens, or do not reissue ID tokens, omit them from the response and
// the current ones stay in use.
func (s Set) Merge(next Set) Set {
	merged := next
	if merged.RefreshToken == "" {
		merged.RefreshToken = s.RefreshToken
	}
	if merged.IDToken == "" {
		merged.IDToken = s.IDToken
	}
	if merged.TokenType == "" {
		merged.TokenType = s.TokenType
	}
	return merged
}

func (s Set) String() string {
	return fmt.Sprintf("token.Set{access_token:%s expiry:%s refresh_token:%s id_token:%s}",
		redact("access_token", s.AccessToken), s.Expiry.Format(time.RFC3339),
		redact("refresh_token", s.RefreshToken), redact("id_token", s.IDToken))
}

func (s Set) GoString() string {
	return s.String()
}

func redact(name, v string) string {
	if v == "" {
		return "<none>"
	}
	return "[REDACTED: " + name + "]"
}
