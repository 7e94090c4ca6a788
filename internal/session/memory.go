package session

import (
	"context"
	"sync"
	"time"

	"github.com/tinyblog/blog/types"
)

const memorySweepInterval = time.Minute

// MemoryStore keeps sessions in process memory. Sessions do not survive a
// restart and are not shared between instances.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]Session
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, id)
		return Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= memorySweepInterval {
		for id, existing := range m.sessions {
			if !now.Before(existing.ExpiresAt) {
				delete(m.sessions, id)
			}
		}
		m.lastSweep = now
	}

	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func cloneSession(s Session) Session {
	if s.Flashes != nil {
		flashes := make([]types.Flash, len(s.Flashes))
		copy(flashes, s.Flashes)
		s.Flashes = flashes
	}
	return s
}
