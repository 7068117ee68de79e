package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/clinicguard/internal/config"
	"github.com/ent0n29/clinicguard/internal/voice"
)

// SpeechInfo describes the resolved speech engines for startup logs.
type SpeechInfo struct {
	Provider    string
	Transcriber string
	Synthesizer string
	Detail      string
}

type speechSetup struct {
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	info        SpeechInfo
}

func resolveSpeech(cfg config.Config) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	stt, tts, err := voice.New(voice.Config{
		Provider: mode,
		ElevenLabs: voice.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoiceID,
			ModelID: cfg.ElevenLabsModelID,
			BaseURL: cfg.ElevenLabsBaseURL,
		},
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIBaseURL:  cfg.OpenAIBaseURL,
		OpenAISTTModel: cfg.OpenAISTTModel,
		MockFallback:   cfg.VoiceMockFallback,
	})
	if err != nil {
		return speechSetup{}, fmt.Errorf("voice provider init failed: %w", err)
	}

	info := SpeechInfo{
		Provider:    mode,
		Transcriber: engineName(stt),
		Synthesizer: engineName(tts),
	}
	info.Detail = fmt.Sprintf("stt=%s tts=%s", info.Transcriber, info.Synthesizer)
	if cfg.VoiceMockFallback {
		info.Detail += " (mock fallback)"
	}
	if mode == "auto" && info.Synthesizer == "mock" {
		info.Detail += " (no elevenlabs key)"
	}
	return speechSetup{transcriber: stt, synthesizer: tts, info: info}, nil
}

func engineName(v any) string {
	switch v.(type) {
	case *voice.MockTranscriber, *voice.MockSynthesizer:
		return "mock"
	case *voice.WhisperTranscriber:
		return "whisper"
	case *voice.ElevenLabsSynthesizer:
		return "elevenlabs"
	case nil:
		return "none"
	default:
		return "failover"
	}
}
