package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session layer
var (
	// Session cookie errors. Both are terminal: the cookie is cleared and the
	// request continues anonymously.
	ErrSessionInvalid = errors.New("session invalid")
	ErrSessionExpired = errors.New("session expired")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenMissing = errors.New("refresh token missing")
	ErrRefreshNotAdvanced  = errors.New("refreshed token does not extend the session")

	// Provider exchange errors (code and refresh grants)
	ErrExchange       = errors.New("token exchange failed")
	ErrInvalidGrant   = errors.New("invalid grant")
	ErrInvalidNonce   = errors.New("invalid nonce")
	ErrMissingIDToken = errors.New("missing id_token")

	// Login flow errors
	ErrInvalidState   = errors.New("invalid state")
	ErrFlowNotStarted = errors.New("login flow not started")

	// Keys
	ErrKeyNotFound = errors.New("key not found")
	ErrWeakSecret  = errors.New("secret too short")

	// Startup
	ErrConfiguration = errors.New("configuration error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsDecodeError reports whether err means the session cookie could not be used.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrSessionExpired)
}
