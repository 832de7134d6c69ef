package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Encrypted key file layout: [16-byte salt][12-byte nonce][ciphertext+tag].
const (
	keySaltSize   = 16
	keyPBKDF2Iter = 600_000
	keyAESSize    = 32
)

// EncryptPrivateKey encrypts PEM-encoded private key material with
// AES-256-GCM. The AES key is derived from the passphrase with PBKDF2 and
// a random per-file salt, so the same passphrase never produces the same
// ciphertext twice.
func EncryptPrivateKey(pemData, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("cryptox: empty passphrase")
	}

	salt := make([]byte, keySaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptox: generate salt: %w", err)
	}

	gcm, err := deriveGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(pemData)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, pemData, nil), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey. A wrong passphrase or a
// tampered file fails the GCM authentication check.
func DecryptPrivateKey(encrypted, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("cryptox: empty passphrase")
	}
	if len(encrypted) < keySaltSize {
		return nil, errors.New("cryptox: encrypted key too short")
	}

	salt, rest := encrypted[:keySaltSize], encrypted[keySaltSize:]

	gcm, err := deriveGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("cryptox: encrypted key too short")
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	pemData, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decrypt private key: %w", err)
	}
	return pemData, nil
}

func deriveGCM(passphrase, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(passphrase, salt, keyPBKDF2Iter, keyAESSize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create GCM: %w", err)
	}
	return gcm, nil
}
