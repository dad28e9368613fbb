package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-oidc-session/token"
)

// Local de-duplicates refreshes inside one process. Concurrent callers with
// the same refresh token share a single exchange, and a successful result is
// remembered for resultTTL so that requests still carrying the old cookie
// pick up the renewed tokens instead of replaying a spent refresh token.
type Local struct {
	group     singleflight.Group
	timeout   time.Duration
	resultTTL time.Duration
	clock     clockwork.Clock

	mu      sync.Mutex
	results map[string]cachedGrant
}

type cachedGrant struct {
	grant   *token.Grant
	expires time.Time
}

type LocalOption func(*Local)

func WithLocalClock(clock clockwork.Clock) LocalOption {
	return func(l *Local) {
		l.clock = clock
	}
}

func WithLocalResultTTL(ttl time.Duration) LocalOption {
	return func(l *Local) {
		l.resultTTL = ttl
	}
}

// NewLocal bounds the shared exchange by timeout. The exchange is detached
// from any single caller so one aborted request cannot fail the others.
func NewLocal(timeout time.Duration, opts ...LocalOption) *Local {
	l := &Local{
		timeout:   timeout,
		resultTTL: 30 * time.Second,
		clock:     clockwork.NewRealClock(),
		results:   map[string]cachedGrant{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Do(ctx context.Context, refreshToken string, fn Func) (*token.Grant, error) {
	key := Key(refreshToken)
	if g, ok := l.cached(key); ok {
		return g, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		g, err := fn(runCtx)
		if err != nil {
			return nil, err
		}
		l.store(key, g)
		return g, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*token.Grant), nil
	}
}

func (l *Local) cached(key string) (*token.Grant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.results[key]
	if !ok {
		return nil, false
	}
	if !l.clock.Now().Before(c.expires) {
		delete(l.results, key)
		return nil, false
	}
	return c.grant, true
}

func (l *Local) store(key string, g *token.Grant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for k, c := range l.results {
		if !now.Before(c.expires) {
			delete(l.results, k)
		}
	}
	l.results[key] = cachedGrant{grant: g, expires: now.Add(l.resultTTL)}
}
