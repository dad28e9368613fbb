package session_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
	"github.com/jrsteele09/go-oidc-session/principal"
	"github.com/jrsteele09/go-oidc-session/session"
	"github.com/jrsteele09/go-oidc-session/token"
	"github.com/jrsteele09/go-oidc-session/token/keys"
)

const (
	secretA = "0123456789abcdef0123456789abcdef-a"
	secretB = "0123456789abcdef0123456789abcdef-b"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	clock *clockwork.FakeClock
	ring  *keys.Keyring
	codec *session.JWECodec
}

func setupTestFixture(t *testing.T, secrets ...string) *testFixture {
	t.Helper()
	if len(secrets) == 0 {
		secrets = []string{secretA}
	}
	ring, err := keys.NewKeyring(secrets...)
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(start)
	return &testFixture{
		clock: clock,
		ring:  ring,
		codec: session.NewJWECodec(ring, session.WithClock(clock)),
	}
}

func testSession() *session.Session {
	return &session.Session{
		Principal: principal.FromClaims(map[string]any{
			"sub":   "user-1",
			"name":  "Jo Bloggs",
			"roles": []any{"admin"},
		}),
		Tokens: token.Set{
			AccessToken:  "access-1",
			TokenType:    "Bearer",
			Expiry:       start.Add(10 * time.Minute),
			RefreshToken: "refresh-1",
			IDToken:      "id-1",
		},
		IssuedAt:  start,
		ExpiresAt: start.Add(8 * time.Hour),
	}
}

func TestJWECodec_RoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	in := testSession()

	raw, err := f.codec.Encode(in)
	require.NoError(t, err)
	require.NotContains(t, raw, "access-1")
	require.NotContains(t, raw, "refresh-1")
	require.NotContains(t, raw, "user-1")

	out, err := f.codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", out.Principal.Subject())
	require.Equal(t, []string{"admin"}, out.Principal.Roles())
	require.Equal(t, in.Tokens.AccessToken, out.Tokens.AccessToken)
	require.Equal(t, in.Tokens.RefreshToken, out.Tokens.RefreshToken)
	require.True(t, in.Tokens.Expiry.Equal(out.Tokens.Expiry))
	require.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
	require.True(t, in.IssuedAt.Equal(out.IssuedAt))

	t.Run("decode encode decode is stable", func(t *testing.T) {
		again, err := f.codec.Encode(out)
		require.NoError(t, err)
		out2, err := f.codec.Decode(again)
		require.NoError(t, err)
		require.Equal(t, out.Principal.Claims(), out2.Principal.Claims())
		require.Equal(t, out.Tokens, out2.Tokens)
		require.Equal(t, out.Generation, out2.Generation)
	})

	t.Run("every encoding is distinct", func(t *testing.T) {
		again, err := f.codec.Encode(in)
		require.NoError(t, err)
		require.NotEqual(t, raw, again)
	})
}

func TestJWECodec_Decode(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.codec.Encode(testSession())
	require.NoError(t, err)

	t.Run("expired cookie", func(t *testing.T) {
		f := setupTestFixture(t)
		raw, err := f.codec.Encode(testSession())
		require.NoError(t, err)

		f.clock.Advance(8 * time.Hour)
		_, err = f.codec.Decode(raw)
		require.True(t, errors.Is(err, errors.ErrSessionExpired))
		require.True(t, errors.IsDecodeError(err))
	})

	t.Run("access token expiry does not expire the cookie", func(t *testing.T) {
		f := setupTestFixture(t)
		raw, err := f.codec.Encode(testSession())
		require.NoError(t, err)

		f.clock.Advance(time.Hour)
		s, err := f.codec.Decode(raw)
		require.NoError(t, err)
		require.True(t, s.Tokens.NeedsRefresh(f.clock.Now(), 0))
	})

	malformed := map[string]string{
		"empty":            "",
		"not a jwe":        "hello",
		"signed jwt":       "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.c2ln",
		"five dots":        "....",
		"truncated":        raw[:len(raw)/2],
		"extra segment":    raw + ".AAAA",
		"binary":           "\x00\xff\xfe",
		"wrong alg header": "eyJhbGciOiJSU0EtT0FFUCIsImVuYyI6IkEyNTZHQ00ifQ.a.b.c.d",
	}
	for name, in := range malformed {
		t.Run("malformed "+name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, err := f.codec.Decode(in)
				require.True(t, errors.Is(err, errors.ErrSessionInvalid), "%v", err)
			})
		})
	}

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(raw, ".")
		require.Len(t, parts, 5)
		for _, idx := range []int{0, 2, 3, 4} {
			tampered := append([]string(nil), parts...)
			b := []byte(tampered[idx])
			b[len(b)/2] ^= 0x01
			if b[len(b)/2] == '.' {
				b[len(b)/2] = 'Q'
			}
			tampered[idx] = string(b)
			_, err := f.codec.Decode(strings.Join(tampered, "."))
			require.True(t, errors.Is(err, errors.ErrSessionInvalid), "segment %d: %v", idx, err)
		}
	})

	t.Run("cookie from another deployment", func(t *testing.T) {
		other := setupTestFixture(t, secretB)
		_, err := other.codec.Decode(raw)
		require.True(t, errors.Is(err, errors.ErrSessionInvalid))
	})

	t.Run("rotated secret still reads old cookies", func(t *testing.T) {
		rotated := setupTestFixture(t, secretB, secretA)
		s, err := rotated.codec.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, "user-1", s.Principal.Subject())
	})
}

func TestJWECodec_Encode(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("missing principal", func(t *testing.T) {
		s := testSession()
		s.Principal = nil
		_, err := f.codec.Encode(s)
		require.Error(t, err)
	})

	t.Run("access token without expiry", func(t *testing.T) {
		s := testSession()
		s.Tokens.Expiry = time.Time{}
		_, err := f.codec.Encode(s)
		require.True(t, errors.Is(err, errors.ErrInvalidToken))
	})

	t.Run("lifetime ends before issue", func(t *testing.T) {
		s := testSession()
		s.ExpiresAt = s.IssuedAt
		_, err := f.codec.Encode(s)
		require.Error(t, err)
	})
}

func TestSession_Renew(t *testing.T) {
	s := testSession()
	p := principal.FromClaims(map[string]any{"sub": "user-1", "name": "New"})
	tokens := token.Set{AccessToken: "access-2", Expiry: start.Add(time.Hour)}

	renewed := s.Renew(p, tokens, start.Add(9*time.Minute))
	require.Equal(t, 1, renewed.Generation)
	require.Equal(t, s.ExpiresAt, renewed.ExpiresAt)
	require.Equal(t, "access-2", renewed.Tokens.AccessToken)
	require.Equal(t, "New", renewed.Principal.Name())
	require.Equal(t, "access-1", s.Tokens.AccessToken)
}
