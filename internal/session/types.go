package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Call is the live bookkeeping for one telephone call.
type Call struct {
	ID             string     `json:"call_id"`
	CallerNumber   string     `json:"caller_number,omitempty"`
	Status         Status     `json:"status"`
	ActiveTurnID   string     `json:"active_turn_id,omitempty"`
	TurnCount      int        `json:"turn_count"`
	Outcome        string     `json:"outcome,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	inFlight  int
	abandoned bool
}
