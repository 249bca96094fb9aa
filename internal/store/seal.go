// ABOUTME: Passphrase-based value sealing for the file credential store
// ABOUTME: Argon2id key derivation with XChaCha20-Poly1305 authenticated encryption

package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltSize = 16

// Argon2id parameters (RFC 9106 second recommended option, lowered memory).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var errMalformedSealed = errors.New("malformed sealed value")

type sealer struct {
	key []byte
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

func newSealer(passphrase, salt []byte) *sealer {
	return &sealer{
		key: argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize),
	}
}

// seal encrypts plaintext and returns base64(nonce || ciphertext).
func (s *sealer) seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// open reverses seal.
func (s *sealer) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", errMalformedSealed
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errMalformedSealed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting value: wrong passphrase or corrupted file")
	}
	return string(plaintext), nil
}
