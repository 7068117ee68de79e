package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/clinicguard/internal/reliability"
)

// LlamaHTTP talks to the small /generate server that wraps a local llama model.
type LlamaHTTP struct {
	url    string
	client *http.Client
	retry  reliability.Policy
}

func NewLlamaHTTP(url string) *LlamaHTTP {
	return &LlamaHTTP{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		retry: reliability.Policy{Retries: 2, Base: 500 * time.Millisecond, Cap: 4 * time.Second},
	}
}

type llamaGenerateRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

func (g *LlamaHTTP) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(llamaGenerateRequest{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	err = reliability.Retry(ctx, g.retry, func(int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
		if err != nil {
			return reliability.Permanent(fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		res, err := g.client.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return reliability.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
			}
			return fmt.Errorf("%w: send request: %w", ErrUnavailable, err)
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			statusErr := fmt.Errorf("llama http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
			if reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return fmt.Errorf("%w: %w", ErrUnavailable, statusErr)
			}
			return reliability.Permanent(fmt.Errorf("%w: %w", ErrGeneration, statusErr))
		}

		text = extractGeneratedText(body)
		return nil
	})
	if err != nil {
		return "", err
	}

	// Some builds of the server echo the prompt ahead of the completion.
	text = strings.TrimPrefix(text, req.Prompt)
	return text, nil
}

func extractGeneratedText(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return string(body)
	}
	for _, k := range []string{"response", "text", "content", "output"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
