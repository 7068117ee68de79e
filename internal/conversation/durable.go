package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/memory"
)

// DurableStore writes every turn through to a memory.Repository and keeps
// a per-session cache of the turn sequence.
type DurableStore struct {
	repo  memory.Repository
	locks *keyedMutex
	log   logrus.FieldLogger

	mu    sync.RWMutex
	cache map[string]*durableSession

	now func() time.Time
}

type durableSession struct {
	callRecordID int64
	callerID     int64
	turns        []Turn
	// injected is 1 when turns[0] is a synthetic summary turn.
	injected int
	// persisted counts real turns already written to the repository.
	persisted int
}

func NewDurableStore(repo memory.Repository, log logrus.FieldLogger) *DurableStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DurableStore{
		repo:  repo,
		locks: newKeyedMutex(),
		log:   log.WithField("component", "conversation_store"),
		cache: make(map[string]*durableSession),
		now:   time.Now,
	}
}

func (s *DurableStore) Backend() string { return "persistent" }

func (s *DurableStore) GetSession(ctx context.Context, sessionID, callerHint string) ([]Turn, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID, callerHint)
	if err != nil {
		return nil, unavailable(err)
	}
	return cloneTurns(sess.turns), nil
}

func (s *DurableStore) AddMessage(ctx context.Context, sessionID string, role Speaker, text, callerHint string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid speaker %q", role)
	}
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID, callerHint)
	if err != nil {
		return unavailable(err)
	}

	turn := Turn{
		Role:      role,
		Text:      strings.TrimSpace(text),
		Timestamp: nextTimestamp(sess.turns, s.now()),
	}
	if sess.callRecordID != 0 {
		if _, err := s.repo.AppendTurn(ctx, memory.TurnRecord{
			CallRecordID: sess.callRecordID,
			Role:         string(turn.Role),
			Content:      turn.Text,
			CreatedAt:    turn.Timestamp,
		}); err != nil {
			return unavailable(err)
		}
		sess.persisted++
	} else {
		s.log.WithField("call_id", sessionID).Debug("turn kept in memory only: no caller identity yet")
	}

	s.mu.Lock()
	sess.turns = append(sess.turns, turn)
	s.mu.Unlock()
	return nil
}

func (s *DurableStore) ClearSession(_ context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *DurableStore) PersistSummary(ctx context.Context, callerID int64, text string) error {
	if _, err := s.repo.AddSummary(ctx, callerID, text); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *DurableStore) Cached(sessionID string) ([]Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.cache[sessionID]
	if !ok {
		return nil, false
	}
	return cloneTurns(sess.turns), true
}

func (s *DurableStore) Transcript(ctx context.Context, sessionID string) (Transcript, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	rec, err := s.repo.GetCall(ctx, sessionID)
	if errors.Is(err, memory.ErrNotFound) {
		return Transcript{}, ErrNoDurableRecord
	}
	if err != nil {
		return Transcript{}, unavailable(err)
	}
	rows, err := s.repo.ListTurns(ctx, rec.ID)
	if err != nil {
		return Transcript{}, unavailable(err)
	}
	return Transcript{
		CallID:   rec.CallID,
		CallerID: rec.CallerID,
		Ended:    rec.Ended(),
		Turns:    turnsFromRecords(rows),
	}, nil
}

func (s *DurableStore) MarkEnded(ctx context.Context, sessionID, outcome string) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	ended, err := s.repo.EndCall(ctx, sessionID, outcome, s.now())
	if errors.Is(err, memory.ErrNotFound) {
		return false, ErrNoDurableRecord
	}
	if err != nil {
		return false, unavailable(err)
	}
	return ended, nil
}

// load returns the cached session, filling the cache from the repository on
// first access. Callers must hold the session lock.
func (s *DurableStore) load(ctx context.Context, sessionID, callerHint string) (*durableSession, error) {
	callerHint = strings.TrimSpace(callerHint)

	s.mu.RLock()
	sess, ok := s.cache[sessionID]
	s.mu.RUnlock()
	if ok {
		if sess.callRecordID == 0 && callerHint != "" {
			if err := s.materialize(ctx, sessionID, sess, callerHint); err != nil {
				return nil, err
			}
		}
		return sess, nil
	}

	sess = &durableSession{}
	rec, err := s.repo.GetCall(ctx, sessionID)
	switch {
	case err == nil:
		rows, err := s.repo.ListTurns(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		sess.callRecordID = rec.ID
		sess.callerID = rec.CallerID
		sess.turns = turnsFromRecords(rows)
		sess.persisted = len(sess.turns)
		if err := s.injectSummary(ctx, sess); err != nil {
			return nil, err
		}
	case errors.Is(err, memory.ErrNotFound):
		if callerHint != "" {
			if err := s.materialize(ctx, sessionID, sess, callerHint); err != nil {
				return nil, err
			}
		}
	default:
		return nil, err
	}

	s.mu.Lock()
	s.cache[sessionID] = sess
	s.mu.Unlock()
	return sess, nil
}

// materialize ties a session to a caller: it creates the caller and call
// rows, injects the caller's latest summary and flushes turns that were
// recorded before the caller was known.
func (s *DurableStore) materialize(ctx context.Context, sessionID string, sess *durableSession, phoneNumber string) error {
	caller, err := s.repo.EnsureCaller(ctx, phoneNumber)
	if err != nil {
		return err
	}
	rec, err := s.repo.CreateCall(ctx, sessionID, caller.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sess.callRecordID = rec.ID
	sess.callerID = rec.CallerID
	s.mu.Unlock()

	for i := sess.injected + sess.persisted; i < len(sess.turns); i++ {
		t := sess.turns[i]
		if _, err := s.repo.AppendTurn(ctx, memory.TurnRecord{
			CallRecordID: rec.ID,
			Role:         string(t.Role),
			Content:      t.Text,
			CreatedAt:    t.Timestamp,
		}); err != nil {
			return err
		}
		sess.persisted++
	}

	s.log.WithFields(logrus.Fields{"call_id": sessionID, "caller_id": caller.ID}).Info("call record created")
	return s.injectSummary(ctx, sess)
}

// injectSummary prepends the caller's most recent summary as a System turn.
// It is never written back to the repository.
func (s *DurableStore) injectSummary(ctx context.Context, sess *durableSession) error {
	if sess.injected > 0 || sess.callerID == 0 {
		return nil
	}
	summary, err := s.repo.LatestSummary(ctx, sess.callerID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	ts := summary.CreatedAt.UTC()
	if len(sess.turns) > 0 && sess.turns[0].Timestamp.Before(ts) {
		ts = sess.turns[0].Timestamp
	}
	s.mu.Lock()
	sess.turns = append([]Turn{{Role: SpeakerSystem, Text: summary.Text, Timestamp: ts}}, sess.turns...)
	sess.injected = 1
	s.mu.Unlock()
	return nil
}

func turnsFromRecords(rows []memory.TurnRecord) []Turn {
	out := make([]Turn, 0, len(rows))
	for _, r := range rows {
		out = append(out, Turn{Role: Speaker(r.Role), Text: r.Content, Timestamp: r.CreatedAt.UTC()})
	}
	return out
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
