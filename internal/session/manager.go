package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("call not found")
	// ErrCallEnded is returned when a turn starts on a call that already ended.
	ErrCallEnded = errors.New("call ended")
	// ErrTurnAbandoned is returned by FinishTurn when teardown stopped
	// waiting for the turn before it finished.
	ErrTurnAbandoned = errors.New("turn outlived call teardown")
)

// Manager tracks live calls and ends the ones that go quiet.
type Manager struct {
	mu                sync.RWMutex
	calls             map[string]*Call
	inactivityTimeout time.Duration
	onExpire          func(*Call)
	now               func() time.Time
	// drained is closed when the last turn of an ended call finishes.
	drained map[string]chan struct{}
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		calls:             make(map[string]*Call),
		drained:           make(map[string]chan struct{}),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers the callback run for each call the janitor expires.
func (m *Manager) SetExpireHook(hook func(*Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Start registers callID, or refreshes it when already known. It reports
// whether the call was new.
func (m *Manager) Start(callID, callerNumber string) (*Call, bool) {
	now := m.now()
	callerNumber = strings.TrimSpace(callerNumber)

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		if c.CallerNumber == "" {
			c.CallerNumber = callerNumber
		}
		if c.Status == StatusActive {
			c.LastActivityAt = now
		}
		return clone(c), false
	}

	c := &Call{
		ID:             callID,
		CallerNumber:   callerNumber,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.calls[callID] = c
	return clone(c), true
}

func (m *Manager) Get(callID string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = m.now()
	return nil
}

// StartTurn records a turn in flight. Turns are refused once the call ended,
// so teardown never races a turn that started after it.
func (m *Manager) StartTurn(callID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.Status == StatusEnded {
		return ErrCallEnded
	}
	c.inFlight++
	c.ActiveTurnID = turnID
	c.LastActivityAt = m.now()
	return nil
}

// FinishTurn clears the active turn and counts it when it completed. It
// returns ErrTurnAbandoned when the call was torn down without waiting for
// this turn.
func (m *Manager) FinishTurn(callID string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.inFlight > 0 {
		c.inFlight--
	}
	if completed {
		c.TurnCount++
	}
	if c.inFlight == 0 {
		c.ActiveTurnID = ""
		if ch, ok := m.drained[callID]; ok {
			close(ch)
			delete(m.drained, callID)
		}
	}
	if c.Status == StatusEnded {
		if c.abandoned {
			return ErrTurnAbandoned
		}
		return nil
	}
	c.LastActivityAt = m.now()
	return nil
}

// WaitTurns blocks until every turn started before callID ended has
// finished. When ctx ends first the remaining turns are marked abandoned
// and ctx's error is returned.
func (m *Manager) WaitTurns(ctx context.Context, callID string) error {
	m.mu.Lock()
	ch, ok := m.drained[callID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok && c.inFlight > 0 {
		c.abandoned = true
		delete(m.drained, callID)
		return ctx.Err()
	}
	return nil
}

// End marks callID ended. The bool reports whether this call made the
// transition; ending an already ended call returns false.
func (m *Manager) End(callID string) (*Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if c.Status == StatusEnded {
		return clone(c), false, nil
	}
	m.markEnded(c, m.now())
	return clone(c), true, nil
}

// SetOutcome records how an ended call finished.
func (m *Manager) SetOutcome(callID, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callID]; ok {
		c.Outcome = outcome
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.calls {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

// List returns every tracked call, most recently started first.
func (m *Manager) List() []*Call {
	m.mu.RLock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, clone(c))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// expireInactive ends idle calls and forgets calls that ended more than one
// inactivity window ago.
func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Call

	m.mu.Lock()
	for id, c := range m.calls {
		if c.Status == StatusEnded {
			if c.EndedAt != nil && now.Sub(*c.EndedAt) >= m.inactivityTimeout && c.inFlight == 0 {
				delete(m.calls, id)
				delete(m.drained, id)
			}
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		// A turn in flight keeps the call alive.
		if c.ActiveTurnID != "" {
			continue
		}
		m.markEnded(c, now)
		expired = append(expired, clone(c))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

// markEnded keeps in-flight turns counted so teardown can wait for them.
func (m *Manager) markEnded(c *Call, at time.Time) {
	c.Status = StatusEnded
	c.LastActivityAt = at
	c.EndedAt = &at
	if c.inFlight > 0 {
		m.drained[c.ID] = make(chan struct{})
	}
}

func clone(c *Call) *Call {
	out := *c
	if c.EndedAt != nil {
		at := *c.EndedAt
		out.EndedAt = &at
	}
	return &out
}
