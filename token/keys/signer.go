package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues and checks the JWTs handed out by a token endpoint.
type Signer interface {
	// Sign creates a signed JWT carrying the key id header.
	Sign(claims jwt.MapClaims) (string, error)

	// Parse verifies the signature of raw and returns its claims. Registered
	// claims such as exp are validated too.
	Parse(raw string, opts ...jwt.ParserOption) (jwt.MapClaims, error)

	KeyID() string
}

// KeyPairSigner implements Signer using RSA with RS256
type KeyPairSigner struct {
	keyPair *KeyPair
}

var _ Signer = (*KeyPairSigner)(nil)

func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{keyPair: keyPair}
}

func (a *KeyPairSigner) KeyID() string {
	return a.keyPair.KeyID
}

func (a *KeyPairSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(a.keyPair.GetSigningMethod(), claims)
	token.Header["kid"] = a.keyPair.KeyID

	signedToken, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("[KeyPairSigner Sign] %w", err)
	}
	return signedToken, nil
}

func (a *KeyPairSigner) Parse(raw string, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{a.keyPair.Algorithm})}, opts...)
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != a.keyPair.KeyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return a.keyPair.PublicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("[KeyPairSigner Parse] %w", err)
	}
	return claims, nil
}
