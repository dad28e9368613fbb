package auth

import (
	"github.com/jrsteele09/go-oidc-session/session"
	"github.com/jrsteele09/go-oidc-session/token"
)

// State is a step of the per-request session validation.
type State int

const (
	NoSession State = iota
	Valid
	NeedsRefresh
	RefreshInFlight
	RefreshSucceeded
	RefreshFailed
	SignedOut
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "NoSession"
	case Valid:
		return "Valid"
	case NeedsRefresh:
		return "NeedsRefresh"
	case RefreshInFlight:
		return "RefreshInFlight"
	case RefreshSucceeded:
		return "RefreshSucceeded"
	case RefreshFailed:
		return "RefreshFailed"
	case SignedOut:
		return "SignedOut"
	default:
		return "Unknown"
	}
}

// Authenticated reports whether a request finishing in s carries a Principal.
func (s State) Authenticated() bool {
	return s == Valid
}

type OutcomeKind int

const (
	Unchanged OutcomeKind = iota
	Renewed
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Renewed:
		return "renewed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// RefreshOutcome is what happened to the TokenSet during one validation.
// Tokens is only set when Kind is Renewed, Reason only when Kind is Failed.
type RefreshOutcome struct {
	Kind   OutcomeKind
	Tokens token.Set
	Reason error
}

// CookieAction tells the gate what to do with the session cookie.
type CookieAction int

const (
	CookieKeep CookieAction = iota
	CookieSet
	CookieClear
)

func (a CookieAction) String() string {
	switch a {
	case CookieKeep:
		return "keep"
	case CookieSet:
		return "set"
	case CookieClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Result is the outcome of validating one request's session cookie.
type Result struct {
	// State is the final state, always NoSession, Valid or SignedOut.
	State State
	// Path lists every state visited, ending with State.
	Path    []State
	Session *session.Session
	Refresh RefreshOutcome
	Cookie  CookieAction
	// Encoded is the new cookie value when Cookie is CookieSet.
	Encoded string
	// Reason explains a SignedOut result.
	Reason error
}

func (r Result) Authenticated() bool {
	return r.State.Authenticated() && r.Session != nil
}
