package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ent0n29/clinicguard/internal/reliability"
)

// OpenAICompatible calls a /v1/completions endpoint. It serves both a local
// llama.cpp server and the hosted OpenAI API.
type OpenAICompatible struct {
	client *openai.Client
	model  string
	retry  reliability.Policy
}

func NewOpenAICompatible(apiKey, baseURL, model string) *OpenAICompatible {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cfg.BaseURL = base
	}
	return &OpenAICompatible{
		client: openai.NewClientWithConfig(cfg),
		model:  strings.TrimSpace(model),
		retry:  reliability.Policy{Retries: 2, Base: 500 * time.Millisecond, Cap: 4 * time.Second},
	}
}

func (g *OpenAICompatible) Generate(ctx context.Context, req Request) (string, error) {
	var text string
	err := reliability.Retry(ctx, g.retry, func(int) error {
		resp, err := g.client.CreateCompletion(ctx, openai.CompletionRequest{
			Model:       g.model,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stop:        req.Stop,
		})
		if err != nil {
			if status := httpStatus(err); status != 0 && !reliability.IsRetryableHTTPStatus(status) {
				return reliability.Permanent(fmt.Errorf("%w: completion status %d: %v", ErrGeneration, status, err))
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return reliability.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
			}
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if len(resp.Choices) == 0 {
			return reliability.Permanent(fmt.Errorf("%w: completion returned no choices", ErrGeneration))
		}
		text = resp.Choices[0].Text
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
