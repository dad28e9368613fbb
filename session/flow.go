package session

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// Flow is the state of one authorization-code round trip, carried in a
// short-lived encrypted cookie between the login redirect and the callback.
type Flow struct {
	State     string `json:"st"`
	Nonce     string `json:"no"`
	Verifier  string `json:"cv"`
	ReturnURL string `json:"ru,omitempty"`
}

type FlowCookie struct {
	jar      *CookieJar
	sealer   *keys.Sealer
	clock    clockwork.Clock
	lifetime time.Duration
}

// NewFlowCookie stores flows under "<session cookie>_flow" with the same
// attributes as the session jar.
func NewFlowCookie(sessionJar *CookieJar, ring *keys.Keyring, lifetime time.Duration) *FlowCookie {
	jar := *sessionJar
	jar.name = sessionJar.name + "_flow"
	return &FlowCookie{
		jar:      &jar,
		sealer:   keys.NewSealer(ring),
		clock:    sessionJar.clock,
		lifetime: lifetime,
	}
}

// Start remembers f for the callback.
func (f *FlowCookie) Start(w http.ResponseWriter, r *http.Request, flow Flow) error {
	now := f.clock.Now()
	expiresAt := now.Add(f.lifetime)
	raw, err := f.sealer.Seal(flow, now, expiresAt)
	if err != nil {
		return errors.Wrapf(err, "[FlowCookie Start]")
	}
	f.jar.Write(w, r, raw, expiresAt)
	return nil
}

// Take returns the pending flow and clears the cookie, so a callback can
// only be completed once.
func (f *FlowCookie) Take(w http.ResponseWriter, r *http.Request) (*Flow, error) {
	raw, present := f.jar.Read(r)
	if !present {
		return nil, errors.ErrFlowNotStarted
	}
	f.jar.Clear(w, r)

	var flow Flow
	if _, err := f.sealer.Open(raw, f.clock.Now(), &flow); err != nil {
		return nil, errors.Wrapf(errors.ErrFlowNotStarted, "[FlowCookie Take] %s", err)
	}
	return &flow, nil
}
