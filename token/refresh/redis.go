package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/token"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

// releaseLock deletes the lock only if it is still held by the caller.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis de-duplicates refreshes across every instance sharing a Redis. The
// first caller takes a short lock and performs the exchange; its result is
// stored encrypted under the cookie keys for a short time and the other
// callers wait for it.
type Redis struct {
	client    redis.UniversalClient
	sealer    *keys.Sealer
	clock     clockwork.Clock
	prefix    string
	lockTTL   time.Duration
	resultTTL time.Duration
	poll      time.Duration
}

type RedisOption func(*Redis)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithLockTTL should exceed the refresh timeout.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.lockTTL = ttl
	}
}

func WithResultTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.resultTTL = ttl
	}
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.poll = d
	}
}

func WithRedisClock(clock clockwork.Clock) RedisOption {
	return func(r *Redis) {
		r.clock = clock
	}
}

func NewRedis(client redis.UniversalClient, ring *keys.Keyring, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		sealer:    keys.NewSealer(ring),
		clock:     clockwork.NewRealClock(),
		prefix:    "oidc-session:",
		lockTTL:   15 * time.Second,
		resultTTL: 30 * time.Second,
		poll:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type sealedGrant struct {
	Tokens   token.Set      `json:"tk"`
	IDClaims map[string]any `json:"ic,omitempty"`
}

func (r *Redis) lockKey(key string) string {
	return r.prefix + "refresh:lock:" + key
}

func (r *Redis) resultKey(key string) string {
	return r.prefix + "refresh:result:" + key
}

func (r *Redis) Do(ctx context.Context, refreshToken string, fn Func) (*token.Grant, error) {
	logger := zerolog.Ctx(ctx)
	key := Key(refreshToken)

	if g, ok := r.load(ctx, key); ok {
		logger.Debug().Msg("refresh result reused from redis")
		return g, nil
	}

	owner := uuid.NewString()
	acquired, err := r.client.SetNX(ctx, r.lockKey(key), owner, r.lockTTL).Result()
	if err != nil {
		// Without Redis the refresh still has to happen; fall back to an
		// uncoordinated exchange rather than signing the user out.
		logger.Warn().Err(err).Msg("refresh lock unavailable, refreshing without coordination")
		return fn(ctx)
	}
	if acquired {
		return r.lead(ctx, key, owner, fn)
	}
	return r.follow(ctx, key)
}

func (r *Redis) lead(ctx context.Context, key, owner string, fn Func) (*token.Grant, error) {
	defer func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), r.client, []string{r.lockKey(key)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to release refresh lock")
		}
	}()

	g, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	sealed, err := r.sealer.Seal(sealedGrant{Tokens: g.Tokens, IDClaims: g.IDClaims}, now, now.Add(r.resultTTL))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to seal refresh result")
		return g, nil
	}
	if err := r.client.Set(context.WithoutCancel(ctx), r.resultKey(key), sealed, r.resultTTL).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish refresh result")
	}
	return g, nil
}

// follow waits for the lock holder's result. When the lock disappears without
// a result the leader failed, and so does this caller.
func (r *Redis) follow(ctx context.Context, key string) (*token.Grant, error) {
	ticker := r.clock.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}

		if g, ok := r.load(ctx, key); ok {
			return g, nil
		}
		n, err := r.client.Exists(ctx, r.lockKey(key)).Result()
		if err != nil {
			return nil, errors.Wrapf(errors.ErrExchange, "[refresh Redis] waiting for concurrent refresh: %s", err)
		}
		if n == 0 {
			if g, ok := r.load(ctx, key); ok {
				return g, nil
			}
			return nil, errors.Wrapf(errors.ErrExchange, "[refresh Redis] concurrent refresh failed")
		}
	}
}

func (r *Redis) load(ctx context.Context, key string) (*token.Grant, bool) {
	raw, err := r.client.Get(ctx, r.resultKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to read refresh result")
		}
		return nil, false
	}
	var sg sealedGrant
	if _, err := r.sealer.Open(raw, r.clock.Now(), &sg); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("discarding unreadable refresh result")
		return nil, false
	}
	return &token.Grant{Tokens: sg.Tokens, IDClaims: sg.IDClaims}, true
}
