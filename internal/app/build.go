package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/clinicguard/internal/audio"
	"github.com/ent0n29/clinicguard/internal/config"
	"github.com/ent0n29/clinicguard/internal/conversation"
	"github.com/ent0n29/clinicguard/internal/events"
	"github.com/ent0n29/clinicguard/internal/httpapi"
	"github.com/ent0n29/clinicguard/internal/lifecycle"
	"github.com/ent0n29/clinicguard/internal/llm"
	"github.com/ent0n29/clinicguard/internal/memory"
	"github.com/ent0n29/clinicguard/internal/observability"
	"github.com/ent0n29/clinicguard/internal/session"
	"github.com/ent0n29/clinicguard/internal/summary"
)

// Options carries process-level dependencies that tests swap out.
type Options struct {
	Log logrus.FieldLogger
	// Registry receives the service metrics. Nil means the default registry.
	Registry *prometheus.Registry
	// Recordings overrides the Twilio recording fetcher.
	Recordings httpapi.RecordingFetcher
}

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Calls       *lifecycle.Manager
	Sessions    *session.Manager
	Events      *events.Broadcaster
	Metrics     *observability.Metrics
	Speech      SpeechInfo
	Summarizers []string

	// Cleanup should be called on shutdown to release the repository and the event feed.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		registerer, gatherer = opts.Registry, opts.Registry
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registerer)

	var (
		repo       memory.Repository
		audioStore *audio.FileStore
	)
	g, gctx := errgroup.WithContext(ctx)
	if usesRepository(cfg.MemoryBackend) {
		g.Go(func() error {
			r, err := memory.NewRepository(gctx, cfg.DBPath)
			if err != nil {
				return fmt.Errorf("memory repository init failed: %w", err)
			}
			repo = r
			return nil
		})
	}
	g.Go(func() error {
		s, err := audio.NewFileStore(cfg.AudioDir)
		if err != nil {
			return fmt.Errorf("audio store init failed: %w", err)
		}
		audioStore = s
		return nil
	})
	if err := g.Wait(); err != nil {
		if repo != nil {
			_ = repo.Close()
		}
		return nil, err
	}

	closeRepo := func() {
		if repo != nil {
			_ = repo.Close()
		}
	}

	store, err := conversation.NewStore(cfg.MemoryBackend, repo, log)
	if err != nil {
		closeRepo()
		return nil, err
	}

	llmCfg := llm.Config{
		Provider:           cfg.LLMProvider,
		LlamaBaseURL:       cfg.LlamaBaseURL,
		LlamaHTTPURL:       cfg.LlamaHTTPURL,
		LlamaModel:         cfg.LlamaModel,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
		OpenAISummaryModel: cfg.OpenAISummaryModel,
	}
	generator, err := llm.New(llmCfg)
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("llm init failed: %w", err)
	}
	strategies, err := summaryStrategies(cfg.SummarizerBackend, llmCfg, generator, log)
	if err != nil {
		closeRepo()
		return nil, err
	}

	speech, err := resolveSpeech(cfg)
	if err != nil {
		closeRepo()
		return nil, err
	}

	feed := events.NewBroadcaster(log)
	sessions := session.NewManager(cfg.CallInactivityTimeout)
	orchestrator := conversation.NewOrchestrator(store, generator, log)

	calls, err := lifecycle.New(lifecycle.Config{
		Orchestrator: orchestrator,
		Summaries:    summary.NewService(store, log, strategies...),
		Calls:        sessions,
		Transcriber:  speech.transcriber,
		Synthesizer:  speech.synthesizer,
		Audio:        audioStore,
		Events:       feed,
		Metrics:      metrics,
		Log:          log,
	})
	if err != nil {
		feed.Close()
		closeRepo()
		return nil, err
	}

	recordings := opts.Recordings
	if recordings == nil {
		recordings = httpapi.NewTwilioRecordings(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.MaxRecordingBytes)
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Calls:      calls,
		Recordings: recordings,
		Audio:      audioStore,
		Events:     feed,
		Metrics:    metrics,
		Gatherer:   gatherer,
		Log:        log,
	})

	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}

	cleanup := func() error {
		var errs []string
		feed.Close()
		if repo != nil {
			if err := repo.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Calls:       calls,
		Sessions:    sessions,
		Events:      feed,
		Metrics:     metrics,
		Speech:      speech.info,
		Summarizers: names,
		Cleanup:     cleanup,
	}, nil
}

func usesRepository(backend string) bool {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "persistent", "durable":
		return true
	}
	return false
}

// summaryStrategies orders the summarizers with the configured backend first.
// The hosted engine is skipped when no API key is set.
func summaryStrategies(backend string, cfg llm.Config, local llm.Generator, log logrus.FieldLogger) ([]summary.Summarizer, error) {
	llama := summary.NewGeneratorSummarizer("llama", local)

	var hosted summary.Summarizer
	gen, err := llm.NewOpenAISummarizer(cfg)
	switch {
	case err == nil:
		hosted = summary.NewGeneratorSummarizer("openai", gen)
	case errors.Is(err, llm.ErrUnavailable):
		log.WithError(err).Info("hosted summarizer disabled")
	default:
		return nil, fmt.Errorf("summarizer init failed: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "llama":
		if hosted == nil {
			return []summary.Summarizer{llama}, nil
		}
		return []summary.Summarizer{llama, hosted}, nil
	case "openai":
		if hosted == nil {
			return []summary.Summarizer{llama}, nil
		}
		return []summary.Summarizer{hosted, llama}, nil
	default:
		return nil, fmt.Errorf("unsupported summarizer backend %q", backend)
	}
}
