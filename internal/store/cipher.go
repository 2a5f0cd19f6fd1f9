package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks a column value written by an enabled TokenCipher.
const sealedPrefix = "enc:v1:"

// TokenCipher encrypts OAuth tokens at rest with AES-256-GCM.
// Sealed values are "enc:v1:" + base64(nonce || ciphertext || tag).
// A cipher built without a key passes values through unchanged.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher returns a cipher for key. An empty key disables encryption.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) == 0 {
		return &TokenCipher{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{aead: gcm}, nil
}

// Enabled reports whether values are encrypted.
func (c *TokenCipher) Enabled() bool {
	return c.aead != nil
}

// Seal encrypts plaintext. Empty values stay empty.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if c.aead == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
// Values without the sealed prefix were stored before encryption was
// enabled and are returned as-is.
func (c *TokenCipher) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if c.aead == nil {
		return "", fmt.Errorf("token is encrypted but no encryption key is configured")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a new random 32-byte key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// KeyFromBase64 decodes a base64 key. An empty string yields a nil key.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d bytes", len(key))
	}
	return key, nil
}
