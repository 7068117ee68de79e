package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/audio"
	"github.com/ent0n29/clinicguard/internal/conversation"
	"github.com/ent0n29/clinicguard/internal/events"
	"github.com/ent0n29/clinicguard/internal/observability"
	"github.com/ent0n29/clinicguard/internal/policy"
	"github.com/ent0n29/clinicguard/internal/protocol"
	"github.com/ent0n29/clinicguard/internal/session"
	"github.com/ent0n29/clinicguard/internal/summary"
	"github.com/ent0n29/clinicguard/internal/voice"
)

// ErrInvalidSession is returned for a missing or malformed call identifier,
// and for turns that arrive after the call ended.
var ErrInvalidSession = errors.New("invalid session")

const (
	OutcomeCompleted     = "completed"
	OutcomeExpired       = "expired"
	OutcomeSummaryFailed = "summary_failed"
)

const (
	teardownTimeout = 45 * time.Second
	// turnDrainTimeout bounds how long teardown waits for a turn in flight.
	turnDrainTimeout = 20 * time.Second
)

// Call ids become file names, so they are restricted to a safe alphabet.
var validCallID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// TurnResult is the outcome of one recorded caller utterance.
type TurnResult struct {
	Transcript string
	Reply      string
	ReplyAudio []byte
	ReplyFile  string
	History    []conversation.Turn
}

type Config struct {
	Orchestrator *conversation.Orchestrator
	Summaries    *summary.Service
	Calls        *session.Manager
	Transcriber  voice.Transcriber
	Synthesizer  voice.Synthesizer
	Audio        *audio.FileStore
	Events       *events.Broadcaster
	Metrics      *observability.Metrics
	Log          logrus.FieldLogger
}

// Manager drives calls through start, turns and end.
type Manager struct {
	orchestrator *conversation.Orchestrator
	store        conversation.Store
	summaries    *summary.Service
	calls        *session.Manager
	stt          voice.Transcriber
	tts          voice.Synthesizer
	audio        *audio.FileStore
	events       *events.Broadcaster
	metrics      *observability.Metrics
	log          logrus.FieldLogger
	turnDrain    time.Duration
}

func New(cfg Config) (*Manager, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("lifecycle: orchestrator is required")
	}
	if cfg.Calls == nil {
		return nil, errors.New("lifecycle: call registry is required")
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		orchestrator: cfg.Orchestrator,
		store:        cfg.Orchestrator.Store(),
		summaries:    cfg.Summaries,
		calls:        cfg.Calls,
		stt:          cfg.Transcriber,
		tts:          cfg.Synthesizer,
		audio:        cfg.Audio,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		log:          log.WithField("component", "lifecycle"),
		turnDrain:    turnDrainTimeout,
	}
	m.calls.SetExpireHook(m.expire)
	return m, nil
}

func (m *Manager) Backend() string { return m.store.Backend() }

func (m *Manager) Calls() *session.Manager { return m.calls }

// History returns the cached turns of a live call.
func (m *Manager) History(callID string) ([]conversation.Turn, bool) {
	return m.store.Cached(callID)
}

// Start registers a call. Sessions themselves are created lazily on the
// first turn.
func (m *Manager) Start(_ context.Context, callID, callerNumber string) (*session.Call, error) {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return nil, err
	}
	call, _ := m.register(callID, callerNumber)
	return call, nil
}

// HandleTurn runs one text utterance through the orchestrator.
func (m *Manager) HandleTurn(ctx context.Context, callID, utterance, callerHint string) (string, error) {
	call, err := m.begin(callID, callerHint)
	if err != nil {
		return "", err
	}
	var reply string
	err = m.track(ctx, call, func() error {
		reply, err = m.generate(ctx, call, utterance)
		return err
	})
	if err != nil {
		return "", err
	}
	m.recorded(call.ID, utterance, reply)
	return reply, nil
}

// HandleRecording transcribes a caller recording, answers it and synthesizes
// the reply. Both recordings are kept in the audio store until the call ends.
func (m *Manager) HandleRecording(ctx context.Context, callID string, recording []byte, contentType, callerHint string) (TurnResult, error) {
	call, err := m.begin(callID, callerHint)
	if err != nil {
		return TurnResult{}, err
	}
	if m.stt == nil || m.tts == nil {
		return TurnResult{}, errors.New("lifecycle: speech engines are not configured")
	}
	var result TurnResult
	err = m.track(ctx, call, func() error {
		result, err = m.recording(ctx, call, recording, contentType)
		return err
	})
	if err != nil {
		return TurnResult{}, err
	}
	m.recorded(call.ID, result.Transcript, result.Reply)
	return result, nil
}

func (m *Manager) recording(ctx context.Context, call *session.Call, recording []byte, contentType string) (TurnResult, error) {
	started := time.Now()
	log := m.log.WithField("call_id", call.ID)

	wav, err := audio.NormalizeRecording(recording, contentType)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: %w", voice.ErrTranscription, err)
	}
	if m.audio != nil {
		if _, err := m.audio.Save(audio.RecordingName(call.ID), wav); err != nil {
			log.WithError(err).Warn("failed to keep caller recording")
		}
	}

	stageStart := time.Now()
	text, err := m.stt.Transcribe(ctx, wav)
	m.metrics.ObserveTurnStage(observability.StageTranscribe, time.Since(stageStart))
	if err != nil {
		m.metrics.ProviderError("stt", "transcription_failed")
		return TurnResult{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		m.metrics.ProviderError("stt", "empty_transcript")
		return TurnResult{}, fmt.Errorf("%w: empty transcript", voice.ErrTranscription)
	}

	reply, err := m.generate(ctx, call, text)
	if err != nil {
		return TurnResult{}, err
	}

	spoken := voice.SpeakableText(reply)
	if spoken == "" {
		spoken = reply
	}
	stageStart = time.Now()
	speech, err := m.tts.Synthesize(ctx, spoken)
	m.metrics.ObserveTurnStage(observability.StageSynthesize, time.Since(stageStart))
	if err != nil {
		m.metrics.ProviderError("tts", "synthesis_failed")
		return TurnResult{}, err
	}

	result := TurnResult{Transcript: text, Reply: reply, ReplyAudio: speech}
	if m.audio != nil {
		name := audio.ReplyName(call.ID)
		if _, err := m.audio.Save(name, speech); err != nil {
			return TurnResult{}, err
		}
		result.ReplyFile = name
	}
	result.History, _ = m.store.Cached(call.ID)
	m.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(started))
	return result, nil
}

// End tears a call down once. It reports whether this invocation did the
// teardown; ending an already ended call is a no-op.
func (m *Manager) End(ctx context.Context, callID string) (bool, error) {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return false, err
	}
	// Unknown calls (process restart, missed answer webhook) are registered
	// so the registry decides who performs teardown.
	m.calls.Start(callID, "")
	call, transitioned, err := m.calls.End(callID)
	if err != nil {
		return false, err
	}
	if !transitioned {
		m.log.WithField("call_id", callID).Debug("call already ended")
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	m.finish(ctx, call, OutcomeCompleted)
	return true, nil
}

func (m *Manager) expire(call *session.Call) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	m.log.WithField("call_id", call.ID).Info("call expired after inactivity")
	m.finish(ctx, call, OutcomeExpired)
}

// finish summarizes, marks the durable record ended, clears the session and
// releases temp audio. Summary failure never stops teardown.
func (m *Manager) finish(ctx context.Context, call *session.Call, outcome string) {
	log := m.log.WithFields(logrus.Fields{"call_id": call.ID, "outcome": outcome})

	// The last reply belongs in the summary, so teardown waits for it.
	drainCtx, cancelDrain := context.WithTimeout(ctx, m.turnDrain)
	if err := m.calls.WaitTurns(drainCtx, call.ID); err != nil {
		log.WithError(err).Warn("tearing down with a turn still in flight")
	}
	cancelDrain()

	archive, durable := m.store.(conversation.Archive)

	summarize := m.summaries != nil
	if durable {
		tr, err := archive.Transcript(ctx, call.ID)
		if err == nil && tr.Ended {
			// Ended by an earlier process; its summary already exists.
			summarize = false
		}
	}
	if summarize {
		started := time.Now()
		res, err := m.summaries.SummarizeAndSave(ctx, call.ID)
		m.metrics.ObserveTurnStage(observability.StageSummarize, time.Since(started))
		switch {
		case err != nil:
			log.WithError(err).Warn("summary not saved")
			m.metrics.SummaryResult("none", "failed")
			outcome = OutcomeSummaryFailed
		case res.Strategy != "":
			m.metrics.SummaryResult(res.Strategy, "saved")
			m.publish(protocol.CallEvent{
				Type:   protocol.TypeSummarySaved,
				CallID: call.ID,
				Text:   policy.Preview(res.Text),
				Detail: res.Strategy,
			})
		}
	}

	if durable {
		if _, err := archive.MarkEnded(ctx, call.ID, outcome); err != nil && !errors.Is(err, conversation.ErrNoDurableRecord) {
			log.WithError(err).Warn("failed to mark call record ended")
		}
	}
	if err := m.store.ClearSession(ctx, call.ID); err != nil {
		log.WithError(err).Warn("failed to clear session")
	}
	if m.audio != nil {
		if err := m.audio.Release(call.ID); err != nil {
			log.WithError(err).Warn("failed to release call audio")
		}
	}

	m.calls.SetOutcome(call.ID, outcome)
	m.metrics.CallEvent(string(protocol.TypeCallEnded))
	m.metrics.SetActiveCalls(m.calls.ActiveCount())
	m.publish(protocol.CallEvent{Type: protocol.TypeCallEnded, CallID: call.ID, Outcome: outcome})
	log.WithField("turns", call.TurnCount).Info("call ended")
}

func (m *Manager) begin(callID, callerHint string) (*session.Call, error) {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return nil, err
	}
	call, _ := m.register(callID, callerHint)
	if call.Status == session.StatusEnded {
		return nil, fmt.Errorf("%w: call %s already ended", ErrInvalidSession, callID)
	}
	return call, nil
}

func (m *Manager) register(callID, callerNumber string) (*session.Call, bool) {
	call, created := m.calls.Start(callID, callerNumber)
	if created {
		m.metrics.CallEvent(string(protocol.TypeCallStarted))
		m.metrics.SetActiveCalls(m.calls.ActiveCount())
		m.publish(protocol.CallEvent{Type: protocol.TypeCallStarted, CallID: callID})
		m.log.WithFields(logrus.Fields{
			"call_id": callID,
			"caller":  policy.MaskPhone(call.CallerNumber),
		}).Info("call started")
	}
	return call, created
}

// track runs fn as the call's turn in flight. Teardown waits for it; when
// teardown stopped waiting, whatever fn left behind is discarded.
func (m *Manager) track(ctx context.Context, call *session.Call, fn func() error) error {
	if err := m.calls.StartTurn(call.ID, uuid.NewString()); errors.Is(err, session.ErrCallEnded) {
		return fmt.Errorf("%w: call %s already ended", ErrInvalidSession, call.ID)
	}
	err := fn()
	ferr := m.calls.FinishTurn(call.ID, err == nil)
	if errors.Is(ferr, session.ErrTurnAbandoned) || errors.Is(ferr, session.ErrNotFound) {
		m.discard(ctx, call.ID)
		return fmt.Errorf("%w: call %s ended during the turn", ErrInvalidSession, call.ID)
	}
	return err
}

// discard drops session state a turn wrote after its call was torn down.
func (m *Manager) discard(ctx context.Context, callID string) {
	log := m.log.WithField("call_id", callID)
	log.Warn("turn finished after call teardown")
	if err := m.store.ClearSession(context.WithoutCancel(ctx), callID); err != nil {
		log.WithError(err).Warn("failed to clear late session")
	}
	if m.audio != nil {
		if err := m.audio.Release(callID); err != nil {
			log.WithError(err).Warn("failed to release late call audio")
		}
	}
}

func (m *Manager) generate(ctx context.Context, call *session.Call, utterance string) (string, error) {
	started := time.Now()
	reply, err := m.orchestrator.HandleTurn(ctx, call.ID, utterance, call.CallerNumber)
	m.metrics.ObserveTurnStage(observability.StageGenerate, time.Since(started))
	if err == nil {
		m.metrics.TurnResult("ok")
		return reply, nil
	}

	m.metrics.TurnResult("failed")
	detail := "turn_failed"
	if errors.Is(err, conversation.ErrGenerationUnavailable) {
		detail = "generation_unavailable"
		m.metrics.ProviderError("llm", detail)
		m.metrics.ObserveIndicator("generation_failed")
	} else if errors.Is(err, conversation.ErrStoreUnavailable) {
		detail = "store_unavailable"
	}
	m.publish(protocol.CallEvent{
		Type:   protocol.TypeTurnFailed,
		CallID: call.ID,
		Role:   string(conversation.SpeakerUser),
		Text:   policy.Preview(utterance),
		Detail: detail,
	})
	return "", err
}

func (m *Manager) recorded(callID, utterance, reply string) {
	m.publish(protocol.CallEvent{
		Type:   protocol.TypeTurnRecorded,
		CallID: callID,
		Role:   string(conversation.SpeakerUser),
		Text:   policy.Preview(utterance),
	})
	m.publish(protocol.CallEvent{
		Type:   protocol.TypeTurnRecorded,
		CallID: callID,
		Role:   string(conversation.SpeakerAssistant),
		Text:   policy.Preview(reply),
	})
}

func (m *Manager) publish(ev protocol.CallEvent) {
	if m.events == nil {
		return
	}
	m.events.Publish(ev)
}

func normalizeCallID(callID string) (string, error) {
	callID = strings.TrimSpace(callID)
	if !validCallID.MatchString(callID) || strings.Contains(callID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, callID)
	}
	return callID, nil
}
