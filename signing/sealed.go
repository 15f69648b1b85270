package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealedPrefix marks a secret stored encrypted in configuration.
const SealedPrefix = "sealed:"

// Sealer encrypts and decrypts API secrets using ChaCha20-Poly1305.
// The API key name is bound as additional data, so a sealed secret cannot
// be moved to a different key.
type Sealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewSealer creates a Sealer. The passphrase is hashed with SHA-256 to
// produce the 32-byte key.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("sealer: empty passphrase")
	}
	key := sha256.Sum256([]byte(passphrase))

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("create chacha20: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts secret for apiKey and returns it with SealedPrefix.
func (s *Sealer) Seal(apiKey, secret string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(secret), []byte(apiKey))
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(apiKey, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("sealed secret too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(apiKey))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries SealedPrefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// ResolveSecret returns secret unchanged unless it is sealed, in which case
// it is opened with passphrase.
func ResolveSecret(apiKey, secret, passphrase string) (string, error) {
	if !IsSealed(secret) {
		return secret, nil
	}
	s, err := NewSealer(passphrase)
	if err != nil {
		return "", err
	}
	return s.Open(apiKey, secret)
}
