package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ent0n29/clinicguard/internal/audio"
)

// WhisperTranscriber sends recordings to an OpenAI-compatible
// /v1/audio/transcriptions endpoint.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

func NewWhisperTranscriber(apiKey, baseURL, model string) (*WhisperTranscriber, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is required for whisper transcription")
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cfg.BaseURL = base
	}
	if strings.TrimSpace(model) == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, recording []byte) (string, error) {
	if len(recording) == 0 {
		return "", fmt.Errorf("%w: %w", ErrTranscription, audio.ErrEmptyAudio)
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(recording),
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
