// Package session manages the lifetime of the remote conversation session.
//
// A client creates exactly one backend session for its whole lifetime: the id
// is requested lazily on first use, cached forever, and never recreated. The
// backend needs no explicit close; the session dies with the process.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Creator is the narrow backend surface the manager needs.
type Creator interface {
	// CreateSession asks the backend for a fresh session id.
	CreateSession(ctx context.Context) (string, error)
}

// Session holds the identity of the remote conversation session.
type Session struct {
	// ID is the opaque backend-issued identifier. Immutable once set.
	ID string

	// CreatedAt is when the creation request resolved.
	CreatedAt time.Time
}

// Manager owns the single remote session. All methods are safe for
// concurrent use; concurrent EnsureSession callers share one in-flight
// creation request instead of issuing duplicates.
type Manager struct {
	creator Creator

	mu      sync.RWMutex
	session *Session

	group singleflight.Group
}

// NewManager creates a Manager that uses creator for the one-time session
// creation call.
func NewManager(creator Creator) *Manager {
	return &Manager{creator: creator}
}

// EnsureSession returns the session id, creating the session on first call.
// Exactly one creation request is issued even when called concurrently from
// multiple goroutines; every caller receives the same id. A failed creation
// is not retried here; the next EnsureSession call starts a fresh attempt.
func (m *Manager) EnsureSession(ctx context.Context) (string, error) {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()
	if s != nil {
		return s.ID, nil
	}

	v, err, _ := m.group.Do("create", func() (any, error) {
		// Re-check under the flight: a previous winner may have landed
		// between the fast path and Do.
		m.mu.RLock()
		s := m.session
		m.mu.RUnlock()
		if s != nil {
			return s.ID, nil
		}

		id, err := m.creator.CreateSession(ctx)
		if err != nil {
			return "", fmt.Errorf("session: create: %w", err)
		}

		m.mu.Lock()
		m.session = &Session{ID: id, CreatedAt: time.Now()}
		m.mu.Unlock()

		slog.Info("session created", "session_id", shortID(id))
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ID returns the cached session id without triggering creation. ok is false
// when no session exists yet.
func (m *Manager) ID() (id string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", false
	}
	return m.session.ID, true
}

// Info returns a copy of the session value, or the zero value when no
// session exists yet.
func (m *Manager) Info() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return Session{}
	}
	return *m.session
}

// shortID truncates a session id for logging, matching what the UI header
// shows.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
