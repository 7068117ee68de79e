package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Caller is a durable identity keyed by phone number.
type Caller struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CallRecord is the durable projection of one call. CallID equals the
// conversation session identifier.
type CallRecord struct {
	ID        int64      `json:"id"`
	CallID    string     `json:"call_id"`
	CallerID  int64      `json:"caller_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
}

// Ended reports whether the call has been closed out.
func (c CallRecord) Ended() bool { return c.EndedAt != nil }

// TurnRecord stores a single conversational turn for a call. Rows are append-only.
type TurnRecord struct {
	ID           int64     `json:"id"`
	CallRecordID int64     `json:"call_record_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary is a condensed synthesis of one finished call, attached to a caller.
type Summary struct {
	ID        int64     `json:"id"`
	CallerID  int64     `json:"caller_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository is the relational access pattern the durable conversation
// backend needs. Implementations must be safe for concurrent use.
type Repository interface {
	// EnsureCaller returns the caller for phoneNumber, creating it if absent.
	// Concurrent calls with the same number resolve to the same row.
	EnsureCaller(ctx context.Context, phoneNumber string) (Caller, error)

	// GetCall returns the record for callID or ErrNotFound.
	GetCall(ctx context.Context, callID string) (CallRecord, error)
	// CreateCall inserts a call record, returning the existing one when callID is taken.
	CreateCall(ctx context.Context, callID string, callerID int64) (CallRecord, error)
	// EndCall stamps ended_at and outcome once. It reports whether this call
	// performed the transition; an unknown callID yields ErrNotFound.
	EndCall(ctx context.Context, callID, outcome string, endedAt time.Time) (bool, error)

	AppendTurn(ctx context.Context, turn TurnRecord) (TurnRecord, error)
	// ListTurns returns every turn of a call in timestamp order.
	ListTurns(ctx context.Context, callRecordID int64) ([]TurnRecord, error)

	AddSummary(ctx context.Context, callerID int64, text string) (Summary, error)
	// LatestSummary returns the most recent summary for a caller or ErrNotFound.
	LatestSummary(ctx context.Context, callerID int64) (Summary, error)
	// ListSummaries returns up to limit summaries, most recent first.
	ListSummaries(ctx context.Context, callerID int64, limit int) ([]Summary, error)

	Close() error
}
