// Package mock provides an in-memory mock of the store.ProfileStore
// interface for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/echoloom/echoloom/pkg/store"
)

// Compile-time assertion.
var _ store.ProfileStore = (*ProfileStore)(nil)

// ProfileStore is an in-memory store.ProfileStore that records calls and can
// be primed with profiles or forced errors.
type ProfileStore struct {
	mu sync.Mutex

	// GetErr and SaveErr force the corresponding methods to fail.
	GetErr  error
	SaveErr error

	// GetCalls and SaveCalls record the arguments of every call.
	GetCalls  []string
	SaveCalls []store.Profile

	profiles map[string]store.Profile
}

// New creates an empty mock profile store.
func New() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]store.Profile)}
}

// Put primes the store with a profile without recording a SaveProfile call.
func (m *ProfileStore) Put(p store.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// Saved returns a copy of the profiles passed to SaveProfile so far.
func (m *ProfileStore) Saved() []store.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]store.Profile, len(m.SaveCalls))
	copy(cp, m.SaveCalls)
	return cp
}

// GetProfile returns the primed profile, or (nil, nil) when absent.
func (m *ProfileStore) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls = append(m.GetCalls, userID)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

// SaveProfile stores the profile in memory.
func (m *ProfileStore) SaveProfile(ctx context.Context, p *store.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, *p)
	if m.SaveErr != nil {
		return m.SaveErr
	}
	p.UpdatedAt = time.Now()
	m.profiles[p.UserID] = *p
	return nil
}
