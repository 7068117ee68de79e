package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/clinicguard/internal/conversation"
	"github.com/ent0n29/clinicguard/internal/llm"
)

const (
	summaryInstruction = "Summarize the following medical appointment conversation for future context. Be concise and focus on patient preferences, patterns, and important details."
	summaryMaxTokens   = 150
	summaryTemperature = 0.5
)

// GeneratorSummarizer asks a text generation engine for the summary.
type GeneratorSummarizer struct {
	name string
	gen  llm.Generator
}

func NewGeneratorSummarizer(name string, gen llm.Generator) *GeneratorSummarizer {
	return &GeneratorSummarizer{name: name, gen: gen}
}

func (g *GeneratorSummarizer) Name() string { return g.name }

func (g *GeneratorSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := g.gen.Generate(ctx, llm.Request{
		Prompt:      BuildPrompt(transcript),
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
		Stop:        conversation.SummaryStop(),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(llm.TruncateAtStop(strings.TrimLeft(out, " \n"), conversation.SummaryStop()))
	if out == "" {
		return "", fmt.Errorf("%w: empty summary", llm.ErrGeneration)
	}
	return out, nil
}

// BuildPrompt wraps a rendered transcript in the summary instruction.
func BuildPrompt(transcript string) string {
	return summaryInstruction + "\n\n" + transcript + "\n\nSummary:"
}
