package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable reports that no generation engine could be reached.
	ErrUnavailable = errors.New("generation engine unavailable")
	// ErrGeneration reports that the engine answered but produced no usable text.
	ErrGeneration = errors.New("generation failed")
)

// Request is a single text completion call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
	Stop        []string
}

// Generator turns a prompt into completion text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config controls generator construction.
type Config struct {
	Provider     string
	LlamaBaseURL string
	LlamaHTTPURL string
	LlamaModel   string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAISummaryModel string
}

// New builds the generator used for conversational turns.
func New(cfg Config) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		return newAutoGenerator(cfg), nil
	case "openai-compatible":
		if strings.TrimSpace(cfg.LlamaBaseURL) == "" {
			return nil, errors.New("LLAMA_BASE_URL is required for openai-compatible provider")
		}
		return NewOpenAICompatible("", cfg.LlamaBaseURL, cfg.LlamaModel), nil
	case "llama-http":
		if strings.TrimSpace(cfg.LlamaHTTPURL) == "" {
			return nil, errors.New("LLAMA_HTTP_URL is required for llama-http provider")
		}
		return NewLlamaHTTP(cfg.LlamaHTTPURL), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newAutoGenerator(cfg Config) Generator {
	if strings.TrimSpace(cfg.LlamaBaseURL) != "" {
		return NewOpenAICompatible("", cfg.LlamaBaseURL, cfg.LlamaModel)
	}
	if strings.TrimSpace(cfg.LlamaHTTPURL) != "" {
		return NewLlamaHTTP(cfg.LlamaHTTPURL)
	}
	return NewMock()
}

// NewOpenAISummarizer returns the hosted OpenAI completion engine used as a
// summarizer, or ErrUnavailable when no API key is configured.
func NewOpenAISummarizer(cfg Config) (Generator, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrUnavailable)
	}
	model := strings.TrimSpace(cfg.OpenAISummaryModel)
	if model == "" {
		model = "gpt-3.5-turbo-instruct"
	}
	return NewOpenAICompatible(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model), nil
}

// TruncateAtStop cuts text at the earliest stop sequence. Engines that ignore
// the stop parameter would otherwise run on into invented turns.
func TruncateAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}
