package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the call assistant. It is read
// once at startup and never changed afterwards.
type Config struct {
	BindAddr              string
	ShutdownTimeout       time.Duration
	CallInactivityTimeout time.Duration
	MetricsNamespace      string
	PublicURL             string
	AudioDir              string
	MaxRecordingBytes     int

	AllowAnyOrigin bool

	MemoryBackend     string
	DBPath            string
	SummarizerBackend string

	LLMProvider        string
	LlamaBaseURL       string
	LlamaHTTPURL       string
	LlamaModel         string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAISummaryModel string
	OpenAISTTModel     string

	VoiceProvider     string
	VoiceMockFallback bool
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsBaseURL string
	ElevenLabsModelID string

	TwilioAccountSID string
	TwilioAuthToken  string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// LoadDotEnv loads path (".env" when empty) into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "clinicguard"),
		PublicURL:         strings.TrimRight(envOrDefault("PUBLIC_URL", "http://localhost:8000"), "/"),
		AudioDir:          envOrDefault("AUDIO_DIR", "audio_files"),
		MemoryBackend:     strings.ToLower(envOrDefault("CLINICGUARD_MEMORY_BACKEND", "ephemeral")),
		DBPath:            envOrDefault("CLINICGUARD_DB_PATH", "sqlite://clinicguard.db"),
		SummarizerBackend: strings.ToLower(envOrDefault("CLINICGUARD_SUMMARIZER_BACKEND", "llama")),

		LLMProvider:        strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LlamaBaseURL:       stringsTrimSpace("LLAMA_BASE_URL"),
		LlamaHTTPURL:       stringsTrimSpace("LLAMA_HTTP_URL"),
		LlamaModel:         envOrDefault("LLAMA_MODEL", "llama-3-8b-q4_0"),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:      stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAISummaryModel: envOrDefault("OPENAI_SUMMARY_MODEL", "gpt-3.5-turbo-instruct"),
		OpenAISTTModel:     envOrDefault("OPENAI_STT_MODEL", "whisper-1"),

		VoiceProvider:     strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: stringsTrimSpace("ELEVENLABS_VOICE_ID"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_monolingual_v1"),

		TwilioAccountSID: stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  stringsTrimSpace("TWILIO_AUTH_TOKEN"),

		LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOrDefault("LOG_FORMAT", "text")),
		LogFile:   stringsTrimSpace("LOG_FILE"),

		ShutdownTimeout:       15 * time.Second,
		CallInactivityTimeout: 10 * time.Minute,
		MaxRecordingBytes:     10 << 20,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRecordingBytes, err = intFromEnv("APP_MAX_RECORDING_BYTES", cfg.MaxRecordingBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceMockFallback, err = boolFromEnv("VOICE_MOCK_FALLBACK", cfg.VoiceMockFallback)
	if err != nil {
		return Config{}, err
	}

	if cfg.CallInactivityTimeout < 30*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.MaxRecordingBytes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_RECORDING_BYTES must be positive")
	}
	switch cfg.MemoryBackend {
	case "ephemeral", "persistent":
	default:
		return Config{}, fmt.Errorf("CLINICGUARD_MEMORY_BACKEND must be ephemeral or persistent, got %q", cfg.MemoryBackend)
	}
	switch cfg.SummarizerBackend {
	case "llama", "openai":
	default:
		return Config{}, fmt.Errorf("CLINICGUARD_SUMMARIZER_BACKEND must be llama or openai, got %q", cfg.SummarizerBackend)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	if !strings.HasPrefix(cfg.PublicURL, "http://") && !strings.HasPrefix(cfg.PublicURL, "https://") {
		return Config{}, fmt.Errorf("PUBLIC_URL must be an http(s) URL")
	}

	return cfg, nil
}

// RecordingAuth reports whether Twilio credentials are configured for
// recording downloads.
func (c Config) RecordingAuth() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
