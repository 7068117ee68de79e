package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/clinicguard/internal/audio"
	"github.com/ent0n29/clinicguard/internal/reliability"
)

const (
	elevenLabsChunkRunes   = 2000
	elevenLabsSampleRate   = 16000
	elevenLabsOutputFormat = "pcm_16000"
)

type ElevenLabsConfig struct {
	APIKey   string
	VoiceID  string
	ModelID  string
	BaseURL  string
	Settings Settings
}

// ElevenLabsSynthesizer calls the ElevenLabs REST text-to-speech endpoint.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
	retry  reliability.Policy
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) (*ElevenLabsSynthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("ELEVENLABS_API_KEY is required")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, errors.New("ELEVENLABS_VOICE_ID is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_monolingual_v1"
	}
	if cfg.Settings.Stability <= 0 {
		cfg.Settings.Stability = 0.5
	}
	if cfg.Settings.SimilarityBoost <= 0 {
		cfg.Settings.SimilarityBoost = 0.75
	}
	return &ElevenLabsSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		// Throttled or failing requests wait 1s, 2s, 4s.
		retry: reliability.Policy{Retries: 3, Base: time.Second, Cap: 4 * time.Second},
	}, nil
}

// Synthesize sends text in chunks and joins the PCM into one WAV file.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesis)
	}

	var pcm bytes.Buffer
	for i, chunk := range splitText(text, elevenLabsChunkRunes) {
		data, err := s.synthesizeChunk(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrSynthesis, i+1, err)
		}
		pcm.Write(data)
	}
	return audio.EncodeWAVPCM16LE(pcm.Bytes(), elevenLabsSampleRate)
}

type elevenLabsRequest struct {
	Text          string   `json:"text"`
	ModelID       string   `json:"model_id"`
	VoiceSettings Settings `json:"voice_settings"`
}

func (s *ElevenLabsSynthesizer) synthesizeChunk(ctx context.Context, chunk string) ([]byte, error) {
	payload, err := json.Marshal(elevenLabsRequest{
		Text:          chunk,
		ModelID:       s.cfg.ModelID,
		VoiceSettings: s.cfg.Settings,
	})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) +
		"?output_format=" + elevenLabsOutputFormat

	var out []byte
	err = reliability.Retry(ctx, s.retry, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return reliability.Permanent(err)
		}
		req.Header.Set("xi-api-key", s.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/pcm")

		res, err := s.client.Do(req)
		if err != nil {
			return reliability.Permanent(fmt.Errorf("send request: %w", err))
		}
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return reliability.Permanent(fmt.Errorf("read response: %w", err))
		}
		switch {
		case res.StatusCode == http.StatusOK:
			out = body
			return nil
		case reliability.IsRetryableHTTPStatus(res.StatusCode):
			return fmt.Errorf("elevenlabs status %d", res.StatusCode)
		default:
			return reliability.Permanent(fmt.Errorf("elevenlabs status %d: %s", res.StatusCode, truncate(string(body), 200)))
		}
	})
	return out, err
}

// splitText cuts text into pieces of at most max runes, preferring to break
// on whitespace.
func splitText(text string, max int) []string {
	var out []string
	for utf8.RuneCountInString(text) > max {
		runes := []rune(text)
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		text = strings.TrimSpace(string(runes[cut:]))
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
