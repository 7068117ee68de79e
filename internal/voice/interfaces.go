package voice

import (
	"context"
	"errors"
)

var (
	ErrTranscription = errors.New("transcription failed")
	ErrSynthesis     = errors.New("synthesis failed")
)

// Transcriber turns a recorded utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer renders reply text as WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Settings shapes the synthesized voice.
type Settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}
