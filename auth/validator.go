package auth

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/internal/metrics"
	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/session"
	"github.com/jrsteele09/go-oidc-session/token"
	"github.com/jrsteele09/go-oidc-session/token/refresh"
)

const (
	DefaultSkew            = 2 * time.Minute
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultSessionLifetime = 8 * time.Hour

	tracerName = "github.com/jrsteele09/go-oidc-session/auth"
)

// Validator runs the session state machine for one request at a time. It is
// safe for concurrent use; it holds no per-session state.
type Validator struct {
	codec       session.Codec
	refresher   TokenRefresher
	clock       clockwork.Clock
	skew        time.Duration
	timeout     time.Duration
	lifetime    time.Duration
	coordinator refresh.Coordinator
	transform   principal.Transform
	claimOpts   []principal.Option
	recorder    metrics.Recorder
	tracer      trace.Tracer
}

type Option func(*Validator)

func WithClock(clock clockwork.Clock) Option {
	return func(v *Validator) {
		v.clock = clock
	}
}

// WithSkew sets how long before expiry an access token is treated as expired.
func WithSkew(d time.Duration) Option {
	return func(v *Validator) {
		v.skew = d
	}
}

// WithRefreshTimeout bounds the provider call made during a refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.timeout = d
	}
}

// WithSessionLifetime sets the absolute cookie lifetime given to new sessions.
func WithSessionLifetime(d time.Duration) Option {
	return func(v *Validator) {
		v.lifetime = d
	}
}

func WithCoordinator(c refresh.Coordinator) Option {
	return func(v *Validator) {
		v.coordinator = c
	}
}

// WithClaimsTransform runs t on the Principal after login and after every
// successful refresh.
func WithClaimsTransform(t principal.Transform) Option {
	return func(v *Validator) {
		v.transform = t
	}
}

// WithClaimTypes sets the name and role claim used for new principals.
func WithClaimTypes(nameClaim, roleClaim string) Option {
	return func(v *Validator) {
		v.claimOpts = []principal.Option{principal.WithNameClaim(nameClaim), principal.WithRoleClaim(roleClaim)}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(v *Validator) {
		v.recorder = r
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(v *Validator) {
		v.tracer = t
	}
}

func NewValidator(codec session.Codec, refresher TokenRefresher, opts ...Option) *Validator {
	v := &Validator{
		codec:       codec,
		refresher:   refresher,
		clock:       clockwork.NewRealClock(),
		skew:        DefaultSkew,
		timeout:     DefaultRefreshTimeout,
		lifetime:    DefaultSessionLifetime,
		coordinator: refresh.None(),
		recorder:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.tracer == nil {
		v.tracer = otel.Tracer(tracerName)
	}
	return v
}

// Validate decides what a request's session cookie is worth. raw is the
// cookie value and present says whether the request carried one at all.
// Every failure is absorbed into a SignedOut result; Validate never errors.
func (v *Validator) Validate(ctx context.Context, raw string, present bool) Result {
	res := v.validate(ctx, raw, present)
	v.recorder.SessionValidated(res.State.String())
	return res
}

func (v *Validator) validate(ctx context.Context, raw string, present bool) Result {
	logger := zerolog.Ctx(ctx)

	if !present {
		return Result{State: NoSession, Path: []State{NoSession}}
	}

	s, err := v.codec.Decode(raw)
	if err != nil {
		logger.Debug().Err(err).Msg("session cookie rejected")
		return Result{
			State:   SignedOut,
			Path:    []State{SignedOut},
			Cookie:  CookieClear,
			Refresh: RefreshOutcome{Kind: Failed, Reason: err},
			Reason:  err,
		}
	}

	now := v.clock.Now()
	if !s.Tokens.NeedsRefresh(now, v.skew) {
		return Result{State: Valid, Path: []State{Valid}, Session: s}
	}

	path := []State{NeedsRefresh}
	if !s.Tokens.CanRefresh() {
		logger.Debug().Time("expiry", s.Tokens.Expiry).Msg("access token expired and no refresh token")
		return signedOut(append(path, RefreshFailed), errors.ErrRefreshTokenMissing)
	}

	path = append(path, RefreshInFlight)
	renewed, err := v.refresh(ctx, s)
	if err != nil {
		res := signedOut(append(path, RefreshFailed), err)
		if ctx.Err() != nil {
			// The request is gone; leave the cookie for the next one.
			res.Cookie = CookieKeep
			logger.Debug().Err(err).Msg("refresh abandoned with its request")
		} else {
			logger.Info().Err(err).Str("subject", s.Principal.Subject()).Msg("session refresh failed, signing out")
		}
		return res
	}

	encoded, err := v.codec.Encode(renewed)
	if err != nil {
		logger.Error().Err(err).Msg("encoding refreshed session")
		return signedOut(append(path, RefreshFailed), err)
	}

	logger.Debug().Int("generation", renewed.Generation).Time("expiry", renewed.Tokens.Expiry).Msg("session refreshed")
	return Result{
		State:   Valid,
		Path:    append(path, RefreshSucceeded, Valid),
		Session: renewed,
		Refresh: RefreshOutcome{Kind: Renewed, Tokens: renewed.Tokens},
		Cookie:  CookieSet,
		Encoded: encoded,
	}
}

func signedOut(path []State, reason error) Result {
	return Result{
		State:   SignedOut,
		Path:    append(path, SignedOut),
		Cookie:  CookieClear,
		Refresh: RefreshOutcome{Kind: Failed, Reason: reason},
		Reason:  reason,
	}
}

// refresh exchanges the stored refresh token and builds the renewed Session.
func (v *Validator) refresh(ctx context.Context, s *session.Session) (*session.Session, error) {
	ctx, span := v.tracer.Start(ctx, "auth.refresh", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	renewed, err := v.exchange(ctx, s)
	outcome := Renewed
	if err != nil {
		outcome = Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
	}
	span.SetAttributes(
		attribute.String("auth.refresh.outcome", outcome.String()),
		attribute.Int("auth.session.generation", s.Generation),
	)
	v.recorder.RefreshCompleted(outcome.String(), time.Since(start))
	return renewed, err
}

func (v *Validator) exchange(ctx context.Context, s *session.Session) (*session.Session, error) {
	ctx, cancel := clockwork.WithTimeout(ctx, v.clock, v.timeout)
	defer cancel()

	rt := s.Tokens.RefreshToken
	grant, err := v.coordinator.Do(ctx, rt, func(ctx context.Context) (*token.Grant, error) {
		return v.refresher.Refresh(ctx, rt)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "[Validator refresh]")
	}
	if grant == nil {
		return nil, errors.Wrapf(errors.ErrExchange, "[Validator refresh] empty grant")
	}

	tokens := s.Tokens.Merge(grant.Tokens)
	if err := tokens.Validate(); err != nil {
		return nil, errors.Wrapf(err, "[Validator refresh]")
	}
	now := v.clock.Now()
	if !tokens.Expiry.After(s.Tokens.Expiry) {
		return nil, errors.Wrapf(errors.ErrRefreshNotAdvanced, "[Validator refresh] expiry %s", tokens.Expiry.Format(time.RFC3339))
	}

	p := s.Principal
	if len(grant.IDClaims) > 0 {
		p = principal.FromClaims(grant.IDClaims, v.principalOptions(s.Principal)...)
	}
	return s.Renew(v.applyTransform(p, tokens), tokens, now), nil
}

// principalOptions keeps the claim types of the existing principal unless
// the validator was configured with its own.
func (v *Validator) principalOptions(prev *principal.Principal) []principal.Option {
	if len(v.claimOpts) > 0 || prev == nil {
		return v.claimOpts
	}
	return []principal.Option{principal.WithNameClaim(prev.NameClaim()), principal.WithRoleClaim(prev.RoleClaim())}
}

func (v *Validator) applyTransform(p *principal.Principal, tokens token.Set) *principal.Principal {
	if v.transform == nil {
		return p
	}
	return v.transform(p, tokens.AccessToken)
}

// Decode opens a session cookie without validating or refreshing its tokens.
// Sign-out uses it to find the tokens to revoke.
func (v *Validator) Decode(raw string) (*session.Session, error) {
	return v.codec.Decode(raw)
}

// Establish builds the first Session from a code exchange and encodes it.
func (v *Validator) Establish(grant *token.Grant) (*session.Session, string, error) {
	if grant == nil || len(grant.IDClaims) == 0 {
		return nil, "", errors.Wrapf(errors.ErrMissingIDToken, "[Validator Establish]")
	}
	if err := grant.Tokens.Validate(); err != nil {
		return nil, "", errors.Wrapf(err, "[Validator Establish]")
	}

	now := v.clock.Now()
	if grant.Tokens.NeedsRefresh(now, v.skew) {
		log.Warn().
			Dur("skew", v.skew).
			Time("expiry", grant.Tokens.Expiry).
			Msg("access token lifetime is shorter than the refresh skew, every request will refresh")
	}
	p := v.applyTransform(principal.FromClaims(grant.IDClaims, v.claimOpts...), grant.Tokens)
	s := &session.Session{
		Principal: p,
		Tokens:    grant.Tokens,
		IssuedAt:  now,
		ExpiresAt: now.Add(v.lifetime),
	}
	encoded, err := v.codec.Encode(s)
	if err != nil {
		return nil, "", errors.Wrapf(err, "[Validator Establish]")
	}
	return s, encoded, nil
}
