package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "znum"
	keyringPrefix  = "reader_"
	keyringProbe   = "probe"
)

// KeyringStore keeps each account as a JSON secret in the OS keychain,
// under service "znum" and user "reader_<username>".
type KeyringStore struct{}

// NewKeyringStore fails when no keychain backend answers, for example on a
// headless Linux box without a secret service.
func NewKeyringStore() (*KeyringStore, error) {
	if err := keyring.Set(keyringService, keyringProbe, "ok"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, keyringProbe)
	return &KeyringStore{}, nil
}

func secretName(username string) string {
	return keyringPrefix + username
}

// notFound maps the keychain's miss to ErrCredentialsNotFound and wraps the rest
func notFound(err error, op string) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	return fmt.Errorf("keyring %s: %w", op, err)
}

func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}

	secret, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := keyring.Set(keyringService, secretName(account.Username), string(secret)); err != nil {
		return fmt.Errorf("keyring store: %w", err)
	}
	return nil
}

func (k *KeyringStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	secret, err := keyring.Get(keyringService, secretName(username))
	if err != nil {
		return nil, notFound(err, "retrieve")
	}

	account := &Account{}
	if err := json.Unmarshal([]byte(secret), account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return account, nil
}

// List is always empty; go-keyring cannot enumerate secrets. Accounts saved
// here are still found by name.
func (k *KeyringStore) List() ([]*Account, error) {
	return nil, nil
}

func (k *KeyringStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}
	if err := keyring.Delete(keyringService, secretName(username)); err != nil {
		return notFound(err, "delete")
	}
	return nil
}

func (k *KeyringStore) Exists(username string) bool {
	if username == "" {
		return false
	}
	_, err := keyring.Get(keyringService, secretName(username))
	return err == nil
}
