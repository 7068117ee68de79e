package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageSubscribe(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_subscribe","call_id":"CA1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	sub, ok := msg.(ClientSubscribe)
	if !ok {
		t.Fatalf("message type = %T, want ClientSubscribe", msg)
	}
	if sub.CallID != "CA1" {
		t.Fatalf("CallID = %q, want CA1", sub.CallID)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_ping","ts_ms":456}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ping, ok := msg.(ClientPing)
	if !ok || ping.TSMs != 456 {
		t.Fatalf("unexpected ping: %#v", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func TestEncodeCallEventOmitsEmptyFields(t *testing.T) {
	raw, err := Encode(CallEvent{ID: "e1", Type: TypeCallEnded, CallID: "CA1", Outcome: "completed", TSMs: 1})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"type":"call_ended"`, `"call_id":"CA1"`, `"outcome":"completed"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("encoded event %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"role"`) || strings.Contains(s, `"text"`) {
		t.Fatalf("encoded event %s should omit empty fields", s)
	}
}
