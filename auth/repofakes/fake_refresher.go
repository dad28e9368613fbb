package repofakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-oidc-session/auth"
	"github.com/jrsteele09/go-oidc-session/token"
)

var _ auth.TokenRefresher = (*FakeRefresher)(nil)

// RefreshFunc answers one refresh call.
type RefreshFunc func(ctx context.Context, refreshToken string) (*token.Grant, error)

// FakeRefresher records refresh calls and answers them with a programmable
// function.
type FakeRefresher struct {
	lock   sync.Mutex
	fn     RefreshFunc
	tokens []string
}

func NewFakeRefresher(fn RefreshFunc) *FakeRefresher {
	return &FakeRefresher{fn: fn}
}

// Returning answers every call with grant and err.
func Returning(grant *token.Grant, err error) *FakeRefresher {
	return NewFakeRefresher(func(context.Context, string) (*token.Grant, error) {
		return grant, err
	})
}

// Blocking waits for the caller's context to end and returns its error.
func Blocking() *FakeRefresher {
	return NewFakeRefresher(func(ctx context.Context, _ string) (*token.Grant, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func (f *FakeRefresher) Refresh(ctx context.Context, refreshToken string) (*token.Grant, error) {
	f.lock.Lock()
	f.tokens = append(f.tokens, refreshToken)
	fn := f.fn
	f.lock.Unlock()
	return fn(ctx, refreshToken)
}

func (f *FakeRefresher) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.tokens)
}

// Tokens lists the refresh tokens presented, in call order.
func (f *FakeRefresher) Tokens() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.tokens...)
}

func (f *FakeRefresher) Set(fn RefreshFunc) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.fn = fn
}
