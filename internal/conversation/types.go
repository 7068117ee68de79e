package conversation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGenerationUnavailable is returned by HandleTurn when no reply could be
	// generated. The User turn stays recorded.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrStoreUnavailable hides storage and locking detail from callers.
	ErrStoreUnavailable = errors.New("conversation store unavailable")
	// ErrNoDurableRecord means the session was never tied to a caller.
	ErrNoDurableRecord = errors.New("session has no durable record")
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "User"
	SpeakerAssistant Speaker = "Assistant"
	SpeakerSystem    Speaker = "System"
)

func (s Speaker) Valid() bool {
	switch s {
	case SpeakerUser, SpeakerAssistant, SpeakerSystem:
		return true
	default:
		return false
	}
}

// Turn is one utterance in conversation order. Turns are never edited.
type Turn struct {
	Role      Speaker   `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store holds the live turn sequence of every session. Both backends honor
// the same contract; only the durable one writes through to storage.
type Store interface {
	// GetSession returns the session's turns, or an empty slice. A non-empty
	// callerHint lets the durable backend create the caller and call record.
	GetSession(ctx context.Context, sessionID, callerHint string) ([]Turn, error)
	// AddMessage appends a turn. The durable backend persists it before returning.
	AddMessage(ctx context.Context, sessionID string, role Speaker, text, callerHint string) error
	// ClearSession evicts the in-memory projection. Durable rows are kept.
	ClearSession(ctx context.Context, sessionID string) error
	// PersistSummary attaches a summary to a caller. No-op without durable storage.
	PersistSummary(ctx context.Context, callerID int64, text string) error
	// Cached returns the in-memory projection without loading or creating anything.
	Cached(sessionID string) ([]Turn, bool)
	// Backend names the implementation ("ephemeral" or "persistent").
	Backend() string
}

// Transcript is the full stored history of one call.
type Transcript struct {
	CallID   string
	CallerID int64
	Ended    bool
	Turns    []Turn
}

// Archive is implemented by stores with durable backing.
type Archive interface {
	// Transcript loads every persisted turn of a call, bypassing the cache.
	// Sessions never tied to a caller yield ErrNoDurableRecord.
	Transcript(ctx context.Context, sessionID string) (Transcript, error)
	// MarkEnded stamps the call record once and reports whether it did so.
	MarkEnded(ctx context.Context, sessionID, outcome string) (bool, error)
}
