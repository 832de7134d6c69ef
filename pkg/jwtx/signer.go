package jwtx

import (
	"crypto/rsa"
	"errors"

	"github.com/EduardoReolon/jwtguard/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Signer produces RS256-signed access tokens from a single RSA private
// key. Key rotation and multi-key verification are deliberately out of
// scope; one signer holds one key.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner loads an RSA private key from PEM bytes (PKCS1 or PKCS8).
func NewSigner(pemKey []byte) (*Signer, error) {
	key, err := cryptox.ParseRSAPrivateKey(pemKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Sign turns claims into a compact signed token string.
func (s *Signer) Sign(claims Claims) (string, error) {
	if s.key == nil {
		return "", errors.New("jwtx: nil RSA key")
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

// Public returns the verification half of the signing key.
func (s *Signer) Public() *rsa.PublicKey {
	return &s.key.PublicKey
}
