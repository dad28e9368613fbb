package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/jrsteele09/go-oidc-session/internal/errors"
)

const (
	// MinSecretLength is the shortest configured secret accepted.
	MinSecretLength = 32

	keySize  = 32 // AES-256
	hkdfInfo = "session-cookie-v1"
)

// Key is a symmetric content-encryption key derived from a configured secret.
type Key struct {
	ID  string
	Raw []byte
}

// Keyring holds the cookie keys in priority order. The first key encrypts new
// values; every key is tried when reading so that secrets can be rotated
// without signing everybody out.
type Keyring struct {
	keys []Key
	byID map[string]Key
}

// NewKeyring derives one key per secret with HKDF-SHA256.
func NewKeyring(secrets ...string) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, errors.Wrapf(errors.ErrKeyNotFound, "[keys NewKeyring] no secrets configured")
	}
	kr := &Keyring{byID: make(map[string]Key, len(secrets))}
	for i, secret := range secrets {
		if len(secret) < MinSecretLength {
			return nil, errors.Wrapf(errors.ErrWeakSecret, "[keys NewKeyring] secret %d has %d bytes, need %d", i, len(secret), MinSecretLength)
		}
		key, err := deriveKey([]byte(secret))
		if err != nil {
			return nil, errors.Wrapf(err, "[keys NewKeyring] secret %d", i)
		}
		if _, dup := kr.byID[key.ID]; dup {
			continue
		}
		kr.keys = append(kr.keys, key)
		kr.byID[key.ID] = key
	}
	return kr, nil
}

func deriveKey(secret []byte) (Key, error) {
	raw := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), raw); err != nil {
		return Key{}, err
	}
	sum := sha256.Sum256(raw)
	return Key{ID: base64.RawURLEncoding.EncodeToString(sum[:8]), Raw: raw}, nil
}

// Primary is the key new values are encrypted with.
func (k *Keyring) Primary() Key {
	return k.keys[0]
}

func (k *Keyring) Lookup(id string) (Key, bool) {
	key, ok := k.byID[id]
	return key, ok
}

func (k *Keyring) All() []Key {
	return append([]Key(nil), k.keys...)
}

// GenerateSecret returns a random secret suitable for the cookie keyring.
func GenerateSecret() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
