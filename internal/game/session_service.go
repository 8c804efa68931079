package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const persistTimeout = 3 * time.Second

// ResultRecorder stores the outcome of a resolved session.
type ResultRecorder interface {
	RecordResult(ctx context.Context, snap SessionSnapshot) error
}

// SessionService keeps the live sessions of this process and persists their
// snapshots so a session stays auditable after its connection is gone.
type SessionService struct {
	mu   sync.Mutex
	live map[string]*Coordinator

	cfg     Config
	deps    Deps
	persist SessionPersistence
	results ResultRecorder
	log     *slog.Logger
}

func NewSessionService(cfg Config, deps Deps, persist SessionPersistence, results ResultRecorder) *SessionService {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	deps.Log = log
	return &SessionService{
		live:    make(map[string]*Coordinator),
		cfg:     cfg,
		deps:    deps,
		persist: persist,
		results: results,
		log:     log.With("component", "sessions"),
	}
}

// Open starts a session for player; envelopes for the client go to out.
func (s *SessionService) Open(ctx context.Context, player Player, out Outbox) *Coordinator {
	id := uuid.NewString()
	c := NewCoordinator(ctx, id, player, s.cfg, s.deps, out)

	// every change of the session saves a snapshot
	c.onPersist = func(snap SessionSnapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.persist.Save(ctx, snap); err != nil {
			s.log.Warn("save session snapshot", "session_id", snap.SessionID, "err", err)
		}
	}
	if s.results != nil {
		c.onResolved = func(snap SessionSnapshot) {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := s.results.RecordResult(ctx, snap); err != nil {
				s.log.Warn("record session result", "session_id", snap.SessionID, "err", err)
			}
		}
	}
	c.persist()

	s.mu.Lock()
	s.live[id] = c
	s.mu.Unlock()

	s.log.Info("session opened", "session_id", id, "player_id", player.ID)
	return c
}

// Close concludes a session and forgets it.
func (s *SessionService) Close(c *Coordinator) {
	c.Close()

	s.mu.Lock()
	delete(s.live, c.ID())
	s.mu.Unlock()
}

// Lookup returns the snapshot of a live session, or the last persisted one.
func (s *SessionService) Lookup(ctx context.Context, sessionID string) (SessionSnapshot, bool, error) {
	s.mu.Lock()
	c, ok := s.live[sessionID]
	s.mu.Unlock()
	if ok {
		return c.Snapshot(), true, nil
	}
	return s.persist.Load(ctx, sessionID)
}

func (s *SessionService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown closes every live session.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	live := make([]*Coordinator, 0, len(s.live))
	for _, c := range s.live {
		live = append(live, c)
	}
	s.mu.Unlock()

	for _, c := range live {
		s.Close(c)
	}
}
