package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryRepository keeps records in process memory. It backs the durable
// conversation store in tests and in local runs with CLINICGUARD_DB_PATH=memory.
type InMemoryRepository struct {
	mu sync.RWMutex

	nextID        int64
	callers       map[int64]Caller
	callerByPhone map[string]int64
	calls         map[string]CallRecord
	turns         map[int64][]TurnRecord
	summaries     map[int64][]Summary
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		callers:       make(map[int64]Caller),
		callerByPhone: make(map[string]int64),
		calls:         make(map[string]CallRecord),
		turns:         make(map[int64][]TurnRecord),
		summaries:     make(map[int64][]Summary),
	}
}

func (r *InMemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *InMemoryRepository) EnsureCaller(_ context.Context, phoneNumber string) (Caller, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.callerByPhone[phoneNumber]; ok {
		return r.callers[id], nil
	}
	c := Caller{ID: r.id(), PhoneNumber: phoneNumber, CreatedAt: time.Now().UTC()}
	r.callers[c.ID] = c
	r.callerByPhone[phoneNumber] = c.ID
	return c, nil
}

func (r *InMemoryRepository) GetCall(_ context.Context, callID string) (CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *InMemoryRepository) CreateCall(_ context.Context, callID string, callerID int64) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.calls[callID]; ok {
		return cloneCall(existing), nil
	}
	if _, ok := r.callers[callerID]; !ok {
		return CallRecord{}, ErrNotFound
	}
	c := CallRecord{ID: r.id(), CallID: callID, CallerID: callerID, StartedAt: time.Now().UTC()}
	r.calls[callID] = c
	return c, nil
}

func (r *InMemoryRepository) EndCall(_ context.Context, callID, outcome string, endedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return false, ErrNotFound
	}
	if c.EndedAt != nil {
		return false, nil
	}
	at := endedAt.UTC()
	c.EndedAt = &at
	c.Outcome = outcome
	r.calls[callID] = c
	return true, nil
}

func (r *InMemoryRepository) AppendTurn(_ context.Context, turn TurnRecord) (TurnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn.ID = r.id()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	r.turns[turn.CallRecordID] = append(r.turns[turn.CallRecordID], turn)
	return turn, nil
}

func (r *InMemoryRepository) ListTurns(_ context.Context, callRecordID int64) ([]TurnRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	arr := r.turns[callRecordID]
	out := make([]TurnRecord, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryRepository) AddSummary(_ context.Context, callerID int64, text string) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callers[callerID]; !ok {
		return Summary{}, ErrNotFound
	}
	s := Summary{ID: r.id(), CallerID: callerID, Text: text, CreatedAt: time.Now().UTC()}
	r.summaries[callerID] = append(r.summaries[callerID], s)
	return s, nil
}

func (r *InMemoryRepository) LatestSummary(ctx context.Context, callerID int64) (Summary, error) {
	items, err := r.ListSummaries(ctx, callerID, 1)
	if err != nil {
		return Summary{}, err
	}
	if len(items) == 0 {
		return Summary{}, ErrNotFound
	}
	return items[0], nil
}

func (r *InMemoryRepository) ListSummaries(_ context.Context, callerID int64, limit int) ([]Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	arr := r.summaries[callerID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	// Insertion order is creation order; walk backwards for most-recent-first.
	out := make([]Summary, 0, limit)
	for i := len(arr) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (r *InMemoryRepository) Close() error { return nil }

func cloneCall(c CallRecord) CallRecord {
	if c.EndedAt != nil {
		at := *c.EndedAt
		c.EndedAt = &at
	}
	return c
}
