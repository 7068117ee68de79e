package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/clinicguard/internal/audio"
	"github.com/ent0n29/clinicguard/internal/conversation"
	"github.com/ent0n29/clinicguard/internal/events"
	"github.com/ent0n29/clinicguard/internal/llm"
	"github.com/ent0n29/clinicguard/internal/memory"
	"github.com/ent0n29/clinicguard/internal/observability"
	"github.com/ent0n29/clinicguard/internal/protocol"
	"github.com/ent0n29/clinicguard/internal/session"
	"github.com/ent0n29/clinicguard/internal/summary"
	"github.com/ent0n29/clinicguard/internal/voice"
)

const phone = "+15555550123"

type failingSummarizer struct{}

func (failingSummarizer) Name() string { return "broken" }

func (failingSummarizer) Summarize(context.Context, string) (string, error) {
	return "", errors.New("model offline")
}

type harness struct {
	mgr    *Manager
	store  conversation.Store
	gen    *llm.Mock
	files  *audio.FileStore
	events *events.Broadcaster
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func newHarness(t *testing.T, store conversation.Store, calls *session.Manager, strategies ...summary.Summarizer) *harness {
	t.Helper()
	log := quietLogger()
	gen := llm.NewMock()
	if len(strategies) == 0 {
		strategies = []summary.Summarizer{summary.NewGeneratorSummarizer("mock", gen)}
	}
	files, err := audio.NewFileStore(t.TempDir())
	require.NoError(t, err)
	if calls == nil {
		calls = session.NewManager(time.Minute)
	}
	bus := events.NewBroadcaster(log)

	mgr, err := New(Config{
		Orchestrator: conversation.NewOrchestrator(store, gen, log),
		Summaries:    summary.NewService(store, log, strategies...),
		Calls:        calls,
		Transcriber:  voice.NewMockTranscriber(),
		Synthesizer:  voice.NewMockSynthesizer(),
		Audio:        files,
		Events:       bus,
		Metrics:      observability.NewMetrics("test", prometheus.NewRegistry()),
		Log:          log,
	})
	require.NoError(t, err)
	return &harness{mgr: mgr, store: store, gen: gen, files: files, events: bus}
}

func drain(ch <-chan protocol.CallEvent) []protocol.CallEvent {
	var out []protocol.CallEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []protocol.CallEvent) []protocol.MessageType {
	out := make([]protocol.MessageType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestEphemeralCallLifecycle(t *testing.T) {
	h := newHarness(t, conversation.NewEphemeralStore(), nil)
	ctx := context.Background()
	feed, _ := h.events.Subscribe(ctx, "CA-eph")

	reply, err := h.mgr.HandleTurn(ctx, "CA-eph", "I need to book an appointment for tomorrow", "")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	_, err = h.mgr.HandleTurn(ctx, "CA-eph", "Yes, that works for me", "")
	require.NoError(t, err)

	history, ok := h.mgr.History("CA-eph")
	require.True(t, ok)
	assert.Len(t, history, 4)

	ended, err := h.mgr.End(ctx, "CA-eph")
	require.NoError(t, err)
	assert.True(t, ended)

	_, ok = h.mgr.History("CA-eph")
	assert.False(t, ok)

	ended, err = h.mgr.End(ctx, "CA-eph")
	require.NoError(t, err)
	assert.False(t, ended)

	assert.Equal(t, []protocol.MessageType{
		protocol.TypeCallStarted,
		protocol.TypeTurnRecorded, protocol.TypeTurnRecorded,
		protocol.TypeTurnRecorded, protocol.TypeTurnRecorded,
		protocol.TypeCallEnded,
	}, eventTypes(drain(feed)))

	call, err := h.mgr.Calls().Get("CA-eph")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, call.Outcome)
	assert.Equal(t, 2, call.TurnCount)
}

func TestDurableSummaryCarriesIntoNextCall(t *testing.T) {
	repo := memory.NewInMemoryRepository()
	store := conversation.NewDurableStore(repo, quietLogger())
	h := newHarness(t, store, nil)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "CA-first", phone)
	require.NoError(t, err)
	_, err = h.mgr.HandleTurn(ctx, "CA-first", "I need to book an appointment for tomorrow", "")
	require.NoError(t, err)
	_, err = h.mgr.HandleTurn(ctx, "CA-first", "Yes, that works for me", "")
	require.NoError(t, err)

	ended, err := h.mgr.End(ctx, "CA-first")
	require.NoError(t, err)
	require.True(t, ended)

	rec, err := repo.GetCall(ctx, "CA-first")
	require.NoError(t, err)
	assert.True(t, rec.Ended())
	assert.Equal(t, OutcomeCompleted, rec.Outcome)

	summaries, err := repo.ListSummaries(ctx, rec.CallerID, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Caller said: Yes, that works for me", summaries[0].Text)

	// A second end, in this process or a fresh one, adds no summary.
	ended, err = h.mgr.End(ctx, "CA-first")
	require.NoError(t, err)
	assert.False(t, ended)

	restarted := newHarness(t, conversation.NewDurableStore(repo, quietLogger()), nil)
	ended, err = restarted.mgr.End(ctx, "CA-first")
	require.NoError(t, err)
	assert.True(t, ended)
	summaries, err = repo.ListSummaries(ctx, rec.CallerID, 0)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	turns, err := store.GetSession(ctx, "CA-second", phone)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, conversation.SpeakerSystem, turns[0].Role)
	assert.Equal(t, summaries[0].Text, turns[0].Text)

	second, err := repo.GetCall(ctx, "CA-second")
	require.NoError(t, err)
	assert.Equal(t, rec.CallerID, second.CallerID)
}

func TestSummaryFailureDoesNotBlockTeardown(t *testing.T) {
	repo := memory.NewInMemoryRepository()
	h := newHarness(t, conversation.NewDurableStore(repo, quietLogger()), nil, failingSummarizer{})
	ctx := context.Background()

	_, err := h.mgr.HandleTurn(ctx, "CA-fail", "Can I move my appointment?", phone)
	require.NoError(t, err)

	ended, err := h.mgr.End(ctx, "CA-fail")
	require.NoError(t, err)
	assert.True(t, ended)

	_, cached := h.mgr.History("CA-fail")
	assert.False(t, cached)

	rec, err := repo.GetCall(ctx, "CA-fail")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSummaryFailed, rec.Outcome)
	_, err = repo.LatestSummary(ctx, rec.CallerID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestHandleRecordingKeepsAudioUntilEnd(t *testing.T) {
	h := newHarness(t, conversation.NewEphemeralStore(), nil)
	ctx := context.Background()

	res, err := h.mgr.HandleRecording(ctx, "CA-rec", []byte("I need to book an appointment for tomorrow"), "text/plain", phone)
	require.NoError(t, err)
	assert.Equal(t, "I need to book an appointment for tomorrow", res.Transcript)
	assert.NotEmpty(t, res.Reply)
	assert.True(t, audio.IsWAV(res.ReplyAudio))
	assert.Equal(t, audio.ReplyName("CA-rec"), res.ReplyFile)
	require.Len(t, res.History, 2)
	assert.Equal(t, conversation.SpeakerAssistant, res.History[1].Role)

	replyPath := filepath.Join(h.files.Dir(), res.ReplyFile)
	recordingPath := filepath.Join(h.files.Dir(), audio.RecordingName("CA-rec"))
	assert.FileExists(t, replyPath)
	assert.FileExists(t, recordingPath)

	_, err = h.mgr.End(ctx, "CA-rec")
	require.NoError(t, err)
	_, err = os.Stat(replyPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recordingPath)
	assert.True(t, os.IsNotExist(err))
}

func TestHandleRecordingRejectsEmptyAudio(t *testing.T) {
	h := newHarness(t, conversation.NewEphemeralStore(), nil)
	_, err := h.mgr.HandleRecording(context.Background(), "CA-empty", nil, "audio/wav", "")
	assert.ErrorIs(t, err, voice.ErrTranscription)
}

func TestGenerationFailureKeepsUserTurn(t *testing.T) {
	h := newHarness(t, conversation.NewEphemeralStore(), nil)
	ctx := context.Background()
	feed, _ := h.events.Subscribe(ctx, "")
	h.gen.FailNext(llm.ErrUnavailable)

	_, err := h.mgr.HandleTurn(ctx, "CA-gen", "Hello?", "")
	require.ErrorIs(t, err, conversation.ErrGenerationUnavailable)

	history, ok := h.mgr.History("CA-gen")
	require.True(t, ok)
	require.Len(t, history, 1)
	assert.Equal(t, conversation.SpeakerUser, history[0].Role)

	evs := drain(feed)
	require.Len(t, evs, 2)
	assert.Equal(t, protocol.TypeTurnFailed, evs[1].Type)
	assert.Equal(t, "generation_unavailable", evs[1].Detail)

	call, err := h.mgr.Calls().Get("CA-gen")
	require.NoError(t, err)
	assert.Zero(t, call.TurnCount)
	assert.Empty(t, call.ActiveTurnID)
}

func TestInvalidCallIDs(t *testing.T) {
	h := newHarness(t, conversation.NewEphemeralStore(), nil)
	ctx := context.Background()
	for _, id := range []string{"", "   ", "../etc/passwd", "a b"} {
		_, err := h.mgr.HandleTurn(ctx, id, "hi", "")
		assert.ErrorIs(t, err, ErrInvalidSession, id)
		_, err = h.mgr.End(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidSession, id)
	}
}

func TestTurnAfterEndIsRejected(t *testing.T) {
	h := newHarness(t, conversation.NewEphemeralStore(), nil)
	ctx := context.Background()
	_, err := h.mgr.End(ctx, "CA-late")
	require.NoError(t, err)

	_, err = h.mgr.HandleTurn(ctx, "CA-late", "are you there?", "")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, cached := h.mgr.History("CA-late")
	assert.False(t, cached)
}

func TestJanitorExpiresIdleCall(t *testing.T) {
	calls := session.NewManager(30 * time.Millisecond)
	h := newHarness(t, conversation.NewEphemeralStore(), calls)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, _ := h.events.Subscribe(ctx, "CA-idle")

	_, err := h.mgr.HandleTurn(ctx, "CA-idle", "I'll call back", "")
	require.NoError(t, err)
	calls.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-feed:
			if ev.Type != protocol.TypeCallEnded {
				continue
			}
			assert.Equal(t, OutcomeExpired, ev.Outcome)
			_, cached := h.mgr.History("CA-idle")
			assert.False(t, cached)
			return
		case <-deadline:
			t.Fatal("call was not expired")
		}
	}
}

// gatedGenerator holds every Generate call until release is closed.
type gatedGenerator struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedGenerator) Generate(ctx context.Context, _ llm.Request) (string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return "Dr. Patel has an opening at nine.", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newGatedManager(t *testing.T, store conversation.Store, gen llm.Generator) *Manager {
	t.Helper()
	log := quietLogger()
	files, err := audio.NewFileStore(t.TempDir())
	require.NoError(t, err)
	mgr, err := New(Config{
		Orchestrator: conversation.NewOrchestrator(store, gen, log),
		Summaries:    summary.NewService(store, log, summary.NewGeneratorSummarizer("mock", llm.NewMock())),
		Calls:        session.NewManager(time.Minute),
		Transcriber:  voice.NewMockTranscriber(),
		Synthesizer:  voice.NewMockSynthesizer(),
		Audio:        files,
		Metrics:      observability.NewMetrics("test", prometheus.NewRegistry()),
		Log:          log,
	})
	require.NoError(t, err)
	return mgr
}

type turnOutcome struct {
	reply string
	err   error
}

func startGatedTurn(mgr *Manager, gen *gatedGenerator, callID string) <-chan turnOutcome {
	done := make(chan turnOutcome, 1)
	go func() {
		reply, err := mgr.HandleTurn(context.Background(), callID, "Is Friday morning free?", phone)
		done <- turnOutcome{reply: reply, err: err}
	}()
	<-gen.entered
	return done
}

func TestEndWaitsForTurnInFlight(t *testing.T) {
	repo := memory.NewInMemoryRepository()
	stores := map[string]conversation.Store{
		"ephemeral": conversation.NewEphemeralStore(),
		"durable":   conversation.NewDurableStore(repo, quietLogger()),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			callID := "CA-hangup-" + name
			gen := newGatedGenerator()
			mgr := newGatedManager(t, store, gen)
			turn := startGatedTurn(mgr, gen, callID)

			endDone := make(chan bool, 1)
			go func() {
				ended, err := mgr.End(context.Background(), callID)
				assert.NoError(t, err)
				endDone <- ended
			}()
			select {
			case <-endDone:
				t.Fatal("teardown finished while the reply was still generating")
			case <-time.After(50 * time.Millisecond):
			}

			close(gen.release)
			got := <-turn
			require.NoError(t, got.err)
			assert.Equal(t, "Dr. Patel has an opening at nine.", got.reply)
			assert.True(t, <-endDone)

			_, cached := mgr.History(callID)
			assert.False(t, cached)
			call, err := mgr.Calls().Get(callID)
			require.NoError(t, err)
			assert.Equal(t, 1, call.TurnCount)
			assert.Equal(t, OutcomeCompleted, call.Outcome)

			if name == "durable" {
				rec, err := repo.GetCall(context.Background(), callID)
				require.NoError(t, err)
				assert.True(t, rec.Ended())
				summaries, err := repo.ListSummaries(context.Background(), rec.CallerID, 0)
				require.NoError(t, err)
				assert.Len(t, summaries, 1)
			}
		})
	}
}

func TestTurnOutlivingTeardownIsDiscarded(t *testing.T) {
	gen := newGatedGenerator()
	mgr := newGatedManager(t, conversation.NewEphemeralStore(), gen)
	mgr.turnDrain = 20 * time.Millisecond
	turn := startGatedTurn(mgr, gen, "CA-slow")

	ended, err := mgr.End(context.Background(), "CA-slow")
	require.NoError(t, err)
	assert.True(t, ended)
	_, cached := mgr.History("CA-slow")
	assert.False(t, cached)

	close(gen.release)
	got := <-turn
	assert.ErrorIs(t, got.err, ErrInvalidSession)
	_, cached = mgr.History("CA-slow")
	assert.False(t, cached, "late reply must not leave a session behind")

	_, err = mgr.HandleTurn(context.Background(), "CA-slow", "hello?", "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
