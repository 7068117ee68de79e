package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EphemeralStore keeps sessions in process memory only.
type EphemeralStore struct {
	locks *keyedMutex

	mu       sync.RWMutex
	sessions map[string][]Turn

	now func() time.Time
}

func NewEphemeralStore() *EphemeralStore {
	return &EphemeralStore{
		locks:    newKeyedMutex(),
		sessions: make(map[string][]Turn),
		now:      time.Now,
	}
}

func (s *EphemeralStore) Backend() string { return "ephemeral" }

func (s *EphemeralStore) GetSession(_ context.Context, sessionID, _ string) ([]Turn, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTurns(s.sessions[sessionID]), nil
}

func (s *EphemeralStore) AddMessage(_ context.Context, sessionID string, role Speaker, text, _ string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid speaker %q", role)
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.sessions[sessionID]
	s.sessions[sessionID] = append(turns, Turn{
		Role:      role,
		Text:      strings.TrimSpace(text),
		Timestamp: nextTimestamp(turns, s.now()),
	})
	return nil
}

func (s *EphemeralStore) ClearSession(_ context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// PersistSummary is a no-op: there is no caller identity to attach it to.
func (s *EphemeralStore) PersistSummary(context.Context, int64, string) error { return nil }

func (s *EphemeralStore) Cached(sessionID string) ([]Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns, ok := s.sessions[sessionID]
	return cloneTurns(turns), ok
}

func cloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	copy(out, in)
	return out
}

// nextTimestamp keeps per-session timestamps non-decreasing even if the wall
// clock steps backwards.
func nextTimestamp(turns []Turn, now time.Time) time.Time {
	now = now.UTC()
	if n := len(turns); n > 0 && now.Before(turns[n-1].Timestamp) {
		return turns[n-1].Timestamp
	}
	return now
}
