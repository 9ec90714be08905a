package auth

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"
)

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

const credentialsFile = "credentials.enc"

// Account is a reader login
type Account struct {
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore keeps accounts keyed by username.
// Stores that cannot hold a given account return ErrStoreUnavailable.
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(username string) (*Account, error)
	List() ([]*Account, error)
	Delete(username string) error
	Exists(username string) bool
}

// Manager reads from and writes to an ordered list of stores. Writes go to
// the first store that accepts them, reads come from the first store that
// has the account.
type Manager struct {
	stores []CredentialStore
}

// NewManager wires the keychain (when one answers), the encrypted file under
// ConfigDir and the ZNUM_USERNAME/ZNUM_PASSWORD environment, in that order.
func NewManager() (*Manager, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	file, err := NewEncryptedFileStore(filepath.Join(dir, credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}

	m := &Manager{}
	if kr, err := NewKeyringStore(); err == nil {
		m.stores = append(m.stores, kr)
	}
	m.stores = append(m.stores, file, NewEnvironmentStore())
	return m, nil
}

// NewManagerWithStores creates a Manager over the given stores, tried in order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store validates account, stamps it and saves it
func (m *Manager) Store(account *Account) error {
	switch {
	case account == nil || account.Username == "":
		return errors.New("username is required")
	case account.Password == "":
		return errors.New("password is required")
	}
	if len(m.stores) == 0 {
		return ErrStoreUnavailable
	}

	account.LastModified = time.Now()

	var failures []error
	for _, s := range m.stores {
		err := s.Store(account)
		if err == nil {
			return nil
		}
		failures = append(failures, err)
	}
	return fmt.Errorf("failed to store credentials: %w", errors.Join(failures...))
}

func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, s := range m.stores {
		account, err := s.Retrieve(username)
		if err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
}

// RetrieveDefault picks the account a download uses when none is named:
// the environment account if set, else the most recently saved one.
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, s := range m.stores {
		env, ok := s.(*EnvironmentStore)
		if !ok {
			continue
		}
		if account, err := env.Retrieve(""); err == nil {
			return account, nil
		}
	}

	accounts, _ := m.List()
	if len(accounts) == 0 {
		return nil, ErrCredentialsNotFound
	}
	return slices.MaxFunc(accounts, func(a, b *Account) int {
		return a.LastModified.Compare(b.LastModified)
	}), nil
}

// List merges the accounts of every store, sorted by username. When a name
// appears in several stores the newest copy wins. Stores that fail to list
// are skipped.
func (m *Manager) List() ([]*Account, error) {
	byName := map[string]*Account{}
	for _, s := range m.stores {
		accounts, err := s.List()
		if err != nil {
			continue
		}
		for _, a := range accounts {
			if prev, seen := byName[a.Username]; seen && !a.LastModified.After(prev.LastModified) {
				continue
			}
			byName[a.Username] = a
		}
	}

	return slices.SortedFunc(maps.Values(byName), func(a, b *Account) int {
		return cmp.Compare(a.Username, b.Username)
	}), nil
}

// Delete removes username from every store. It succeeds if any store held it.
func (m *Manager) Delete(username string) error {
	var lastErr error
	removed := false
	for _, s := range m.stores {
		if err := s.Delete(username); err != nil {
			lastErr = err
			continue
		}
		removed = true
	}

	switch {
	case removed:
		return nil
	case lastErr != nil:
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	default:
		return fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
	}
}

// DeleteAll removes every listed account
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	var failures []error
	for _, a := range accounts {
		if err := m.Delete(a.Username); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// ConfigDir returns the znum directory under the user config directory
// ($XDG_CONFIG_HOME or ~/.config, ~/Library/Application Support, %AppData%),
// creating it with owner-only permissions.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(base, "znum")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// SanitizeAccount returns a copy safe to print
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	masked := *account
	masked.Password = maskSecret(account.Password)
	return &masked
}

// maskSecret keeps two characters at each end of secrets longer than eight
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:2] + "..." + s[len(s)-2:]
}
