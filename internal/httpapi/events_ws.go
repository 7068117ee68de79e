package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/clinicguard/internal/protocol"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedReadTimeout  = 120 * time.Second
	feedPingInterval = 30 * time.Second
)

// handleEventsWS streams call events. The optional call_id query parameter,
// or a later client_subscribe message, narrows the stream to one call.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event feed not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.WSMessage("inbound", "connect")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	control := make(chan any, 16)
	go s.readFeedClient(ctx, cancel, conn, control)

	subCtx, subCancel := context.WithCancel(ctx)
	defer func() { subCancel() }()
	feed, _ := s.events.Subscribe(subCtx, strings.TrimSpace(r.URL.Query().Get("call_id")))

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		var out any
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteTimeout)); err != nil {
				return
			}
			continue
		case ev, ok := <-feed:
			if !ok {
				return
			}
			out = ev
		case msg := <-control:
			switch m := msg.(type) {
			case protocol.ClientSubscribe:
				subCancel()
				subCtx, subCancel = context.WithCancel(ctx)
				feed, _ = s.events.Subscribe(subCtx, strings.TrimSpace(m.CallID))
				continue
			case protocol.ClientPing:
				out = protocol.CallEvent{Type: protocol.TypePong, TSMs: m.TSMs}
			default:
				out = msg
			}
		}

		raw, err := protocol.Encode(out)
		if err != nil {
			s.log.WithError(err).Warn("failed to encode feed message")
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
		s.metrics.WSMessage("outbound", messageTypeOf(out))
	}
}

// readFeedClient forwards parsed client messages to the writer loop and
// cancels the connection when the client goes away.
func (s *Server) readFeedClient(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, control chan<- any) {
	defer cancel()
	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		var msg any
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			msg = protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
		} else {
			msg = parsed
			s.metrics.WSMessage("inbound", messageTypeOf(parsed))
		}
		select {
		case <-ctx.Done():
			return
		case control <- msg:
		}
	}
}

func messageTypeOf(v any) string {
	switch m := v.(type) {
	case protocol.CallEvent:
		return string(m.Type)
	case protocol.ClientSubscribe:
		return string(m.Type)
	case protocol.ClientPing:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}
