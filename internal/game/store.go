package game

import (
	"context"
	"sync"
)

// MemorySessionStore keeps snapshots in process. Used when Redis is not
// configured and in tests.
type MemorySessionStore struct {
	mu sync.Mutex
	m  map[string]SessionSnapshot
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		m: make(map[string]SessionSnapshot),
	}
}

func (s *MemorySessionStore) Save(ctx context.Context, snap SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[snap.SessionID] = snap
	return nil
}

func (s *MemorySessionStore) Load(ctx context.Context, sessionID string) (SessionSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.m[sessionID]
	return snap, ok, nil
}
