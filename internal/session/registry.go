package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/echoloom/echoloom/internal/observe"
)

// Registry is the process-wide index of live sessions. All methods are safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *observe.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *observe.Metrics) *Registry {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Add registers a session. Duplicate ids are rejected; they indicate a
// programming error since ids are random UUIDs.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; exists {
		return fmt.Errorf("session: duplicate id %s", s.ID())
	}
	r.sessions[s.ID()] = s
	r.metrics.ActiveSessions.Add(context.Background(), 1)
	return nil
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove drops a session from the registry. Removing an unknown id is a
// no-op. The id is never reinserted; new sessions always get fresh ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		return
	}
	delete(r.sessions, id)
	r.metrics.ActiveSessions.Add(context.Background(), -1)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the current sessions. The slice is a copy; the supervisor
// iterates it without holding the registry lock across per-session work.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every live session and empties the registry. Used during
// server shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.Snapshot() {
		_ = s.Close()
		r.Remove(s.ID())
	}
}
