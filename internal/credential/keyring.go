// Package credential keeps provider client secrets and the token encryption
// key in the system keyring so they need not live in the config file.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/teemow/mailsync/internal/model"
)

const serviceName = "mailsync"

// EncryptionKeyName is the keyring entry holding the base64 token key.
const EncryptionKeyName = "security.encryption_key"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// ClientSecretKey names the keyring entry of a provider's OAuth client secret.
func ClientSecretKey(p model.Provider) string {
	return fmt.Sprintf("providers.%s.client_secret", p)
}

// Store reads and writes credentials.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store over the system keyring, falling back to an encrypted
// file under dir when no native backend is available.
func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = "~/.config/mailsync/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Lookup is Get that treats a missing key as an empty value.
func (s *Store) Lookup(key string) (string, error) {
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailsync " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Keys lists the stored credential names.
func (s *Store) Keys() ([]string, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return keys, nil
}
