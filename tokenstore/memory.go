// Package tokenstore provides durable homes for the access/refresh token
// pair: in memory, a shared JSON file, Redis and the OS keyring. All stores
// treat an empty string as "absent" and keep the stored refresh token when
// SetTokens is given an empty one.
package tokenstore

import (
	"context"
	"sync"
)

// DefaultProfile is used when no profile name is configured.
const DefaultProfile = "default"

// Memory keeps tokens for the lifetime of the process.
type Memory struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemory returns a store seeded with the given tokens.
func NewMemory(access, refresh string) *Memory {
	return &Memory{access: access, refresh: refresh}
}

func (m *Memory) AccessToken(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access, nil
}

func (m *Memory) RefreshToken(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh, nil
}

func (m *Memory) SetTokens(_ context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = access
	if refresh != "" {
		m.refresh = refresh
	}
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = ""
	m.refresh = ""
	return nil
}
