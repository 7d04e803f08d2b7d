package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrSessionNotFound = errors.New("session not found")

// Store holds every session ever booked. Callers serialize writes per doctor.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]Session, error)
	List(ctx context.Context) ([]Session, error)
	Save(ctx context.Context, s Session) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListByDoctor(_ context.Context, doctorID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func sortByStart(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ScheduledAt.Equal(sessions[j].ScheduledAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ScheduledAt.Before(sessions[j].ScheduledAt)
	})
}
