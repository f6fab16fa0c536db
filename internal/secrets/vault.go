// Package secrets holds the relay's shared credentials and supports hot reload,
// so the secret can be rotated without restarting and dropping live streams.
package secrets

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/AlarmRelay/internal/config"
)

// Loader retrieves the current credentials from a source.
type Loader func() (config.Auth, error)

// Vault holds the active credentials and a version that increments on every
// successful reload.
type Vault struct {
	mu      sync.RWMutex
	auth    config.Auth
	version uint64
	loader  Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	auth, err := load(loader)
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{auth: auth, version: 1, loader: loader}, nil
}

// Current returns the active credentials and their version.
func (v *Vault) Current() (config.Auth, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.auth, v.version
}

// Reload calls the loader and swaps in the new credentials atomically.
// If the loader fails or returns an unusable hash, the current credentials
// are kept.
func (v *Vault) Reload() error {
	auth, err := load(v.loader)
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.auth = auth
	v.version++
	v.mu.Unlock()
	return nil
}

// Redacted describes the active credentials for logs without revealing them.
func (v *Vault) Redacted() string {
	auth, _ := v.Current()
	switch {
	case auth.SecretHash != "":
		return "bcrypt"
	case auth.Secret != "":
		return mask(auth.Secret)
	default:
		return "disabled"
	}
}

func load(loader Loader) (config.Auth, error) {
	auth, err := loader()
	if err != nil {
		return config.Auth{}, err
	}
	if auth.SecretHash != "" {
		if _, err := bcrypt.Cost([]byte(auth.SecretHash)); err != nil {
			return config.Auth{}, fmt.Errorf("auth.secret_hash: %w", err)
		}
	}
	return auth, nil
}

// mask shows the first two characters of long secrets and nothing of short ones.
func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****"
}
