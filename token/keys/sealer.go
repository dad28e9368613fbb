package keys

import (
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
)

// maxSealedLength bounds the input accepted by Open; anything longer cannot
// have been produced by Seal for a browser cookie.
const maxSealedLength = 64 * 1024

// Sealer encrypts and authenticates small JSON documents as compact JWE
// (alg=dir, enc=A256GCM) under the keyring's primary key.
type Sealer struct {
	ring *Keyring
}

func NewSealer(ring *Keyring) *Sealer {
	return &Sealer{ring: ring}
}

// Seal serialises v together with the iat and exp claims.
func (s *Sealer) Seal(v any, issuedAt, expiresAt time.Time) (string, error) {
	key := s.ring.Primary()
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key.Raw, KeyID: key.ID},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", errors.Wrapf(err, "[Sealer Seal] encrypter")
	}

	std := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(issuedAt),
		Expiry:   jwt.NewNumericDate(expiresAt),
	}
	raw, err := jwt.Encrypted(enc).Claims(std).Claims(v).Serialize()
	if err != nil {
		return "", errors.Wrapf(err, "[Sealer Seal] serialise")
	}
	return raw, nil
}

// Open decrypts raw into v and returns its registered claims. Tampered,
// truncated or foreign input fails with ErrInvalidToken; a value whose exp
// has passed fails with ErrTokenExpired.
func (s *Sealer) Open(raw string, now time.Time, v any) (*jwt.Claims, error) {
	if raw == "" || len(raw) > maxSealedLength {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "[Sealer Open] length %d", len(raw))
	}
	tok, err := jwt.ParseEncrypted(raw, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "[Sealer Open] parse: %s", err)
	}

	candidates := s.ring.All()
	if len(tok.Headers) > 0 {
		if key, ok := s.ring.Lookup(tok.Headers[0].KeyID); ok {
			candidates = []Key{key}
		}
	}

	var std jwt.Claims
	for _, key := range candidates {
		if err = tok.Claims(key.Raw, &std, v); err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "[Sealer Open] decrypt: %s", err)
	}

	if std.Expiry == nil || std.IssuedAt == nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "[Sealer Open] missing iat or exp")
	}
	if !now.Before(std.Expiry.Time()) {
		return nil, errors.Wrapf(errors.ErrTokenExpired, "[Sealer Open] expired at %s", std.Expiry.Time().UTC().Format(time.RFC3339))
	}
	return &std, nil
}
