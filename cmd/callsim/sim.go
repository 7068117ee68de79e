package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/clinicguard/internal/protocol"
)

type turnReply struct {
	SessionID     string `json:"session_id"`
	Transcription string `json:"transcription"`
	Reply         string `json:"reply"`
	AudioPath     string `json:"audio_path"`
	History       []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"conversation_history"`
}

type simulator struct {
	client  *http.Client
	baseURL string
}

func runCall(ctx context.Context, out io.Writer, opts runOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	sim := &simulator{client: &http.Client{Timeout: 60 * time.Second}, baseURL: opts.baseURL}
	fmt.Fprintf(out, "callsim: call=%s from=%s turns=%d\n", opts.callSID, opts.from, len(opts.turns))

	var printed chan struct{}
	if opts.watch {
		out = &lockedWriter{w: out}
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		feed, err := sim.watch(watchCtx, opts.callSID)
		if err != nil {
			return fmt.Errorf("open event feed: %w", err)
		}
		printed = make(chan struct{})
		go func() {
			defer close(printed)
			printEvents(out, feed)
		}()
	}

	type utterance struct {
		data        []byte
		contentType string
	}
	var script []utterance
	if opts.audioFile != "" {
		data, err := os.ReadFile(opts.audioFile)
		if err != nil {
			return fmt.Errorf("read audio file: %w", err)
		}
		script = append(script, utterance{data: data, contentType: "audio/wav"})
	}
	for _, text := range opts.turns {
		script = append(script, utterance{data: []byte(text), contentType: "text/plain"})
	}

	for i, u := range script {
		started := time.Now()
		reply, err := sim.processAudio(ctx, opts.callSID, opts.from, u.data, u.contentType)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		fmt.Fprintf(out, "turn %d (%s)\n  caller:    %s\n  assistant: %s\n", i+1, time.Since(started).Round(time.Millisecond), reply.Transcription, reply.Reply)
		if reply.AudioPath != "" {
			fmt.Fprintf(out, "  audio:     %s%s\n", opts.baseURL, reply.AudioPath)
		}
		if opts.interTurn > 0 && i < len(script)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interTurn):
			}
		}
	}

	if err := sim.endCall(ctx, opts.callSID); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	if printed != nil {
		select {
		case <-printed:
		case <-time.After(2 * time.Second):
		}
	}
	fmt.Fprintln(out, "callsim: call ended")

	if opts.perf {
		body, err := sim.perf(ctx, opts.resetPerf)
		if err != nil {
			return fmt.Errorf("perf snapshot: %w", err)
		}
		fmt.Fprintf(out, "%s\n", body)
	}
	return nil
}

func (s *simulator) processAudio(ctx context.Context, callSID, from string, data []byte, contentType string) (turnReply, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="turn.wav"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return turnReply{}, err
	}
	if _, err := part.Write(data); err != nil {
		return turnReply{}, err
	}
	if err := mw.Close(); err != nil {
		return turnReply{}, err
	}

	q := url.Values{}
	q.Set("session_id", callSID)
	q.Set("caller", from)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/pipeline/process_audio?"+q.Encode(), &buf)
	if err != nil {
		return turnReply{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := s.do(req)
	if err != nil {
		return turnReply{}, err
	}
	var out turnReply
	if err := sonic.Unmarshal(body, &out); err != nil {
		return turnReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return out, nil
}

// endCall posts the status callback Twilio sends when the caller hangs up.
func (s *simulator) endCall(ctx context.Context, callSID string) error {
	form := url.Values{}
	form.Set("CallSid", callSID)
	form.Set("CallStatus", "completed")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/twilio/voice/end", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = s.do(req)
	return err
}

func (s *simulator) perf(ctx context.Context, reset bool) ([]byte, error) {
	target := s.baseURL + "/v1/perf/latency"
	if reset {
		target += "?reset=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

func (s *simulator) do(req *http.Request) ([]byte, error) {
	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// watch subscribes to the call event feed. The channel closes when the
// connection drops or ctx ends.
func (s *simulator) watch(ctx context.Context, callSID string) (<-chan protocol.CallEvent, error) {
	wsURL, err := feedURL(s.baseURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	sub, err := protocol.Encode(protocol.ClientSubscribe{Type: protocol.TypeClientSubscribe, CallID: callSID})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		_ = conn.Close()
		return nil, err
	}

	out := make(chan protocol.CallEvent, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev protocol.CallEvent
			if err := sonic.Unmarshal(raw, &ev); err != nil || ev.Type == "" || ev.Type == protocol.TypePong {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// printEvents returns once the call has ended or the feed closes.
func printEvents(out io.Writer, feed <-chan protocol.CallEvent) {
	for ev := range feed {
		line := fmt.Sprintf("  event: %s", ev.Type)
		if ev.Role != "" {
			line += " role=" + ev.Role
		}
		if ev.Outcome != "" {
			line += " outcome=" + ev.Outcome
		}
		if ev.Detail != "" {
			line += " detail=" + ev.Detail
		}
		fmt.Fprintln(out, line)
		if ev.Type == protocol.TypeCallEnded {
			return
		}
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func feedURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/calls/events/ws"
	return u.String(), nil
}
