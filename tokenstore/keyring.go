package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name entries are filed under.
const DefaultKeyringService = "dashctl"

// Keyring keeps tokens in the operating system's credential store.
type Keyring struct {
	service string
	profile string
}

// NewKeyring returns a keyring-backed store.
func NewKeyring(service, profile string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Keyring{service: service, profile: profile}
}

func (k *Keyring) accessUser() string  { return k.profile + "/access" }
func (k *Keyring) refreshUser() string { return k.profile + "/refresh" }

func (k *Keyring) AccessToken(_ context.Context) (string, error) {
	return k.get(k.accessUser())
}

func (k *Keyring) RefreshToken(_ context.Context) (string, error) {
	return k.get(k.refreshUser())
}

func (k *Keyring) get(user string) (string, error) {
	secret, err := keyring.Get(k.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", user, err)
	}
	return secret, nil
}

func (k *Keyring) SetTokens(_ context.Context, access, refresh string) error {
	if err := keyring.Set(k.service, k.accessUser(), access); err != nil {
		return fmt.Errorf("keyring save access token: %w", err)
	}
	if refresh == "" {
		return nil
	}
	if err := keyring.Set(k.service, k.refreshUser(), refresh); err != nil {
		return fmt.Errorf("keyring save refresh token: %w", err)
	}
	return nil
}

func (k *Keyring) Clear(_ context.Context) error {
	for _, user := range []string{k.accessUser(), k.refreshUser()} {
		if err := keyring.Delete(k.service, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring delete %s: %w", user, err)
		}
	}
	return nil
}
