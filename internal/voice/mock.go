package voice

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/clinicguard/internal/audio"
)

const mockUtterance = "I'd like to book an appointment."

// MockTranscriber is a local stand-in used when no speech engine is configured.
// Plain UTF-8 payloads are treated as the spoken text, which lets smoke tests
// script a call without real audio.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (MockTranscriber) Transcribe(ctx context.Context, recording []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(recording) == 0 {
		return "", fmt.Errorf("%w: %w", ErrTranscription, audio.ErrEmptyAudio)
	}
	if !audio.IsWAV(recording) && utf8.Valid(recording) {
		if text := strings.TrimSpace(string(recording)); text != "" {
			return text, nil
		}
	}
	return mockUtterance, nil
}

// MockSynthesizer renders a short silent WAV whose length follows the text.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	// ~60ms of 8 kHz PCM16 silence per word.
	words := len(strings.Fields(text))
	pcm := make([]byte, words*audio.TelephonySampleRate*2*60/1000)
	return audio.EncodeWAVPCM16LE(pcm, audio.TelephonySampleRate)
}
