package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// GenerateRSAKey generates a new RSA private key of the given bit size and
// returns it PEM-encoded (PKCS1). Sizes below 2048 are rejected.
func GenerateRSAKey(bits int) ([]byte, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("cryptox: RSA key size must be at least 2048 bits, got %d", bits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("cryptox: generate RSA key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}

// ParseRSAPrivateKey loads an RSA private key from PEM bytes. Handles both
// PKCS1 and PKCS8 blocks so callers don't have to care which form their
// key file happens to be in.
func ParseRSAPrivateKey(pemKey []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("cryptox: invalid PEM for RSA key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cryptox: parse PKCS1 key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cryptox: parse PKCS8 key: %w", err)
		}
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("cryptox: not an RSA private key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("cryptox: unsupported PEM type %q", block.Type)
	}
}
