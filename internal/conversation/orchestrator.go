package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/llm"
	"github.com/ent0n29/clinicguard/internal/policy"
)

const (
	turnMaxTokens   = 200
	turnTemperature = 0.7
)

// Orchestrator threads session history through stateless generation calls.
type Orchestrator struct {
	store     Store
	generator llm.Generator
	log       logrus.FieldLogger
}

func NewOrchestrator(store Store, generator llm.Generator, log logrus.FieldLogger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		store:     store,
		generator: generator,
		log:       log.WithField("component", "orchestrator"),
	}
}

func (o *Orchestrator) Store() Store { return o.store }

// HandleTurn records the utterance, asks the generator for a reply and
// records the reply. When generation fails the User turn is kept and
// ErrGenerationUnavailable is returned.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, utterance, callerHint string) (string, error) {
	history, err := o.store.GetSession(ctx, sessionID, callerHint)
	if err != nil {
		return "", err
	}

	utterance = strings.TrimSpace(utterance)
	if err := o.store.AddMessage(ctx, sessionID, SpeakerUser, utterance, callerHint); err != nil {
		return "", err
	}
	history = append(history, Turn{Role: SpeakerUser, Text: utterance})

	log := o.log.WithField("call_id", sessionID)
	log.WithField("text", policy.Preview(utterance)).Debug("user turn recorded")

	out, err := o.generator.Generate(ctx, llm.Request{
		Prompt:      BuildPrompt(history),
		MaxTokens:   turnMaxTokens,
		Temperature: turnTemperature,
		Stop:        TurnStop(),
	})
	if err == nil {
		out = strings.TrimSpace(llm.TruncateAtStop(out, turnStop))
		if out == "" {
			err = fmt.Errorf("%w: empty reply", llm.ErrGeneration)
		}
	}
	if err != nil {
		log.WithError(err).Warn("generation failed; user turn recorded without assistant reply")
		return "", errors.Join(ErrGenerationUnavailable, err)
	}

	if err := o.store.AddMessage(ctx, sessionID, SpeakerAssistant, out, callerHint); err != nil {
		return "", err
	}
	log.WithField("text", policy.Preview(out)).Debug("assistant turn recorded")
	return out, nil
}
