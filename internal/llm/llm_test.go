package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/clinicguard/internal/reliability"
)

var fastRetry = reliability.Policy{Retries: 2, Base: time.Millisecond, Cap: 2 * time.Millisecond}

func completionServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCompletion(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "cmpl-1",
		"object":  "text_completion",
		"created": 1,
		"model":   "llama-3-8b-q4_0",
		"choices": []map[string]any{{"text": text, "index": 0, "finish_reason": "stop"}},
	})
}

func TestOpenAICompatibleSendsParameters(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, func(w http.ResponseWriter, body map[string]any) {
		seen = body
		writeCompletion(w, " Sure, what time?")
	})

	g := NewOpenAICompatible("", srv.URL, "llama-3-8b-q4_0")
	out, err := g.Generate(context.Background(), Request{
		Prompt:      "User: hi\nAssistant:",
		MaxTokens:   200,
		Temperature: 0.7,
		Stop:        []string{"\n", "User:", "Assistant:"},
	})
	require.NoError(t, err)
	assert.Equal(t, " Sure, what time?", out)

	assert.Equal(t, "llama-3-8b-q4_0", seen["model"])
	assert.Equal(t, "User: hi\nAssistant:", seen["prompt"])
	assert.EqualValues(t, 200, seen["max_tokens"])
	assert.Len(t, seen["stop"], 3)
}

func TestOpenAICompatibleRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, _ map[string]any) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, "ok")
	})

	g := NewOpenAICompatible("", srv.URL, "m")
	g.retry = fastRetry
	out, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAICompatibleClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, _ map[string]any) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	})

	g := NewOpenAICompatible("", srv.URL, "m")
	g.retry = fastRetry
	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAICompatibleUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewOpenAICompatible("", url, "m")
	g.retry = fastRetry
	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLlamaHTTPStripsEchoedPrompt(t *testing.T) {
	prompt := "System: be brief\nUser: hello\nAssistant:"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body llamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, prompt, body.Prompt)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": prompt + " Hello there."})
	}))
	defer srv.Close()

	out, err := NewLlamaHTTP(srv.URL).Generate(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)
	assert.Equal(t, " Hello there.", out)
}

func TestLlamaHTTPServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewLlamaHTTP(srv.URL)
	g.retry = fastRetry
	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTruncateAtStop(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{" Sure.\nUser: next", " Sure."},
		{" Sure. User: next", " Sure. "},
		{"Booked. Assistant: again", "Booked. "},
		{"no markers", "no markers"},
	}
	for _, tc := range cases {
		got := TruncateAtStop(tc.in, []string{"\n", "User:", "Assistant:"})
		assert.Equal(t, tc.want, got)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	g, err := New(Config{Provider: "auto"})
	require.NoError(t, err)
	assert.IsType(t, &Mock{}, g)

	g, err = New(Config{Provider: "auto", LlamaHTTPURL: "http://localhost:8080/generate"})
	require.NoError(t, err)
	assert.IsType(t, &LlamaHTTP{}, g)

	g, err = New(Config{Provider: "auto", LlamaBaseURL: "http://localhost:8080", LlamaModel: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompatible{}, g)

	_, err = New(Config{Provider: "openai-compatible"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "bogus"})
	assert.Error(t, err)

	_, err = NewOpenAISummarizer(Config{})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestMockScriptsRepliesAndFailures(t *testing.T) {
	m := NewMock("first")
	boom := errors.New("boom")
	m.FailNext(boom)

	_, err := m.Generate(context.Background(), Request{Prompt: "a"})
	assert.ErrorIs(t, err, boom)

	out, err := m.Generate(context.Background(), Request{Prompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = m.Generate(context.Background(), Request{Prompt: "User: book me in\nAssistant:"})
	require.NoError(t, err)
	assert.Contains(t, out, "book me in")
	assert.Len(t, m.Requests(), 3)
}
