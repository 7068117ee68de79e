package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock provides deterministic local completions when no engine is configured.
// Scripted replies and errors are consumed in order before the default reply.
type Mock struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []Request
}

func NewMock(replies ...string) *Mock {
	return &Mock{replies: replies}
}

// FailNext queues errors returned by the next calls.
func (m *Mock) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Requests returns every request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Mock) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(m.replies) > 0 {
		reply := m.replies[0]
		m.replies = m.replies[1:]
		return reply, nil
	}
	return buildMockCompletion(req.Prompt), nil
}

func buildMockCompletion(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if strings.HasSuffix(trimmed, "Summary:") {
		last := lastLineWithPrefix(trimmed, "User: ")
		if last == "" {
			return " Caller spoke with the booking assistant."
		}
		return fmt.Sprintf(" Caller said: %s", last)
	}

	last := lastLineWithPrefix(trimmed, "User: ")
	if last == "" {
		return " How can I help you book an appointment today?"
	}
	return fmt.Sprintf(" I heard you: %s. What date and time work best for you?", last)
}

func lastLineWithPrefix(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
