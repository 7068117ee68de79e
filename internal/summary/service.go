package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/conversation"
)

// ErrSummarizationFailed means no strategy produced a summary that could be saved.
var ErrSummarizationFailed = errors.New("summarization failed")

// Summarizer condenses a rendered transcript.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Result describes a saved summary.
type Result struct {
	CallerID int64
	Text     string
	Strategy string
}

// Service summarizes finished calls and attaches the summary to the caller.
// Strategies are tried in order and the first success wins.
type Service struct {
	store      conversation.Store
	strategies []Summarizer
	log        logrus.FieldLogger
}

func NewService(store conversation.Store, log logrus.FieldLogger, strategies ...Summarizer) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:      store,
		strategies: strategies,
		log:        log.WithField("component", "summary"),
	}
}

// Strategies returns the configured strategy names in order.
func (s *Service) Strategies() []string {
	out := make([]string, 0, len(s.strategies))
	for _, st := range s.strategies {
		out = append(out, st.Name())
	}
	return out
}

// SummarizeAndSave summarizes the stored history of sessionID. It returns a
// zero Result and nil when there is nothing to summarize: ephemeral backend,
// a session never tied to a caller, or an empty transcript.
func (s *Service) SummarizeAndSave(ctx context.Context, sessionID string) (Result, error) {
	archive, ok := s.store.(conversation.Archive)
	if !ok {
		return Result{}, nil
	}

	tr, err := archive.Transcript(ctx, sessionID)
	if errors.Is(err, conversation.ErrNoDurableRecord) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: load transcript: %w", ErrSummarizationFailed, err)
	}
	if len(tr.Turns) == 0 {
		return Result{}, nil
	}

	transcript := strings.TrimSpace(conversation.RenderTranscript(tr.Turns))
	log := s.log.WithField("call_id", sessionID)

	var errs []error
	for _, st := range s.strategies {
		text, err := st.Summarize(ctx, transcript)
		if err != nil {
			log.WithError(err).WithField("strategy", st.Name()).Warn("summarizer failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", st.Name(), err))
			continue
		}
		if err := s.store.PersistSummary(ctx, tr.CallerID, text); err != nil {
			return Result{}, fmt.Errorf("%w: persist: %w", ErrSummarizationFailed, err)
		}
		log.WithFields(logrus.Fields{"strategy": st.Name(), "caller_id": tr.CallerID}).Info("summary saved")
		return Result{CallerID: tr.CallerID, Text: text, Strategy: st.Name()}, nil
	}

	if len(errs) == 0 {
		return Result{}, fmt.Errorf("%w: no summarizer configured", ErrSummarizationFailed)
	}
	return Result{}, fmt.Errorf("%w: %w", ErrSummarizationFailed, errors.Join(errs...))
}
