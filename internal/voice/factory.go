package voice

import (
	"fmt"
	"strings"
)

// Config controls speech engine construction.
type Config struct {
	Provider   string
	ElevenLabs ElevenLabsConfig

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAISTTModel string

	// MockFallback pairs real engines with the local mocks through a failover pair.
	MockFallback bool
}

// New returns the transcriber and synthesizer for cfg.Provider
// ("auto", "elevenlabs" or "mock").
func New(cfg Config) (Transcriber, Synthesizer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	var (
		stt Transcriber = NewMockTranscriber()
		tts Synthesizer = NewMockSynthesizer()
	)
	switch provider {
	case "mock":
		return stt, tts, nil
	case "elevenlabs":
		el, err := NewElevenLabsSynthesizer(cfg.ElevenLabs)
		if err != nil {
			return nil, nil, err
		}
		tts = el
	case "auto":
		if el, err := NewElevenLabsSynthesizer(cfg.ElevenLabs); err == nil {
			tts = el
		}
	default:
		return nil, nil, fmt.Errorf("unsupported voice provider %q", cfg.Provider)
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		whisper, err := NewWhisperTranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAISTTModel)
		if err != nil {
			return nil, nil, err
		}
		stt = whisper
	}

	if cfg.MockFallback {
		stt, tts = NewFailoverPair(stt, tts, NewMockTranscriber(), NewMockSynthesizer())
	}
	return stt, tts, nil
}
