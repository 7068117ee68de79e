package voice

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// NewFailoverPair builds a transcriber and synthesizer that prefer the
// primary engines and switch to the fallbacks when a primary call fails.
// Once fallback succeeds it stays active until it fails; then primary is retried.
func NewFailoverPair(
	primarySTT Transcriber,
	primaryTTS Synthesizer,
	fallbackSTT Transcriber,
	fallbackTTS Synthesizer,
) (Transcriber, Synthesizer) {
	state := &failoverState{}
	return &failoverTranscriber{state: state, primary: primarySTT, fallback: fallbackSTT},
		&failoverSynthesizer{state: state, primary: primaryTTS, fallback: fallbackTTS}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

func (s *failoverState) activateFallback()      { s.fallbackActive.Store(true) }
func (s *failoverState) deactivateFallback()    { s.fallbackActive.Store(false) }
func (s *failoverState) isFallbackActive() bool { return s.fallbackActive.Load() }

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type failoverTranscriber struct {
	state    *failoverState
	primary  Transcriber
	fallback Transcriber
}

func (p *failoverTranscriber) Transcribe(ctx context.Context, recording []byte) (string, error) {
	if p.state.isFallbackActive() {
		text, fbErr := p.fallback.Transcribe(ctx, recording)
		if fbErr == nil {
			return text, nil
		}
		// Fallback failed after being active; try primary again.
		text, prErr := p.primary.Transcribe(ctx, recording)
		if prErr == nil {
			p.state.deactivateFallback()
			return text, nil
		}
		return "", fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	text, prErr := p.primary.Transcribe(ctx, recording)
	if prErr == nil || isCanceled(prErr) {
		return text, prErr
	}
	text, fbErr := p.fallback.Transcribe(ctx, recording)
	if fbErr != nil {
		return "", fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return text, nil
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  Synthesizer
	fallback Synthesizer
}

func (p *failoverSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if p.state.isFallbackActive() {
		out, fbErr := p.fallback.Synthesize(ctx, text)
		if fbErr == nil {
			return out, nil
		}
		out, prErr := p.primary.Synthesize(ctx, text)
		if prErr == nil {
			p.state.deactivateFallback()
			return out, nil
		}
		return nil, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	out, prErr := p.primary.Synthesize(ctx, text)
	if prErr == nil || isCanceled(prErr) {
		return out, prErr
	}
	out, fbErr := p.fallback.Synthesize(ctx, text)
	if fbErr != nil {
		return nil, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return out, nil
}
