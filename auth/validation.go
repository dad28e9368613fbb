package auth

import (
	"crypto/subtle"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
)

// MinStateLength is the shortest state parameter accepted on the callback.
const MinStateLength = 16

// LocalReturnURL reduces a requested post-login destination to a path on this
// site. Anything absolute, protocol relative or otherwise suspicious becomes
// fallback.
func LocalReturnURL(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	if strings.ContainsAny(raw, "\r\n\t\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" || u.User != nil {
		return fallback
	}
	return u.RequestURI() + fragment(u)
}

func fragment(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.EscapedFragment()
}

// ValidateState checks the state returned on the callback against the one
// stored when the login started.
func ValidateState(expected, got string) error {
	if len(expected) < MinStateLength {
		return errors.Wrapf(errors.ErrInvalidState, "[ValidateState] stored state too short")
	}
	if got == "" {
		return errors.Wrapf(errors.ErrInvalidState, "[ValidateState] missing")
	}
	if strings.TrimSpace(got) != got {
		return errors.Wrapf(errors.ErrInvalidState, "[ValidateState] must not contain leading/trailing whitespace")
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return errors.Wrapf(errors.ErrInvalidState, "[ValidateState] mismatch")
	}
	return nil
}

// ValidateRedirectURI checks the absolute callback URI registered with the
// provider.
func ValidateRedirectURI(uri string) error {
	if strings.TrimSpace(uri) != uri || uri == "" {
		return errors.Wrapf(errors.ErrConfiguration, "[ValidateRedirectURI] %q is empty or padded", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrapf(errors.ErrConfiguration, "[ValidateRedirectURI] %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrapf(errors.ErrConfiguration, "[ValidateRedirectURI] %q must use http or https", uri)
	}
	if u.Host == "" {
		return errors.Wrapf(errors.ErrConfiguration, "[ValidateRedirectURI] %q has no host", uri)
	}
	if strings.Contains(uri, "#") {
		return errors.Wrapf(errors.ErrConfiguration, "[ValidateRedirectURI] %q must not contain a fragment", uri)
	}
	return nil
}
