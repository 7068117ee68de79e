package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType identifies websocket payload variants on the call event feed.
type MessageType string

const (
	TypeCallStarted  MessageType = "call_started"
	TypeTurnRecorded MessageType = "turn_recorded"
	TypeTurnFailed   MessageType = "turn_failed"
	TypeSummarySaved MessageType = "summary_saved"
	TypeCallEnded    MessageType = "call_ended"
	TypePong         MessageType = "pong"
	TypeErrorEvent   MessageType = "error_event"

	TypeClientSubscribe MessageType = "client_subscribe"
	TypeClientPing      MessageType = "client_ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// CallEvent is pushed to feed subscribers. Text carries a redacted preview.
type CallEvent struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	CallID  string      `json:"call_id"`
	Role    string      `json:"role,omitempty"`
	Text    string      `json:"text,omitempty"`
	Outcome string      `json:"outcome,omitempty"`
	Detail  string      `json:"detail,omitempty"`
	TSMs    int64       `json:"ts_ms"`
}

// ClientSubscribe narrows the feed to one call; an empty CallID means all calls.
type ClientSubscribe struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
}

type ClientPing struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSubscribe:
		var msg ClientSubscribe
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientPing:
		var msg ClientPing
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Encode serializes any feed message.
func Encode(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}
