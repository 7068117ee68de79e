package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/audio"
	"github.com/ent0n29/clinicguard/internal/config"
	"github.com/ent0n29/clinicguard/internal/events"
	"github.com/ent0n29/clinicguard/internal/lifecycle"
	"github.com/ent0n29/clinicguard/internal/observability"
)

type Deps struct {
	Calls      *lifecycle.Manager
	Recordings RecordingFetcher
	Audio      *audio.FileStore
	Events     *events.Broadcaster
	Metrics    *observability.Metrics
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

type Server struct {
	cfg        config.Config
	calls      *lifecycle.Manager
	recordings RecordingFetcher
	audio      *audio.FileStore
	events     *events.Broadcaster
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	upgrader   websocket.Upgrader
	log        logrus.FieldLogger
}

func New(cfg config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:        cfg,
		calls:      deps.Calls,
		recordings: deps.Recordings,
		audio:      deps.Audio,
		events:     deps.Events,
		metrics:    deps.Metrics,
		gatherer:   deps.Gatherer,
		log:        log.WithField("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may watch the call feed unless opted out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "ClinicGuard API is running"})
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler(s.gatherer).ServeHTTP(w, r)
	})

	r.Post("/twilio/voice/answer", s.handleTwilioAnswer)
	r.Post("/twilio/voice", s.handleTwilioVoice)
	r.Post("/twilio/voice/end", s.handleTwilioEnd)

	r.Get("/audio/{file}", s.handleAudio)

	r.Post("/v1/pipeline/process_audio", s.handleProcessAudio)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/events/ws", s.handleEventsWS)
	r.Get("/v1/calls/{id}/history", s.handleCallHistory)
	r.Post("/v1/calls/{id}/end", s.handleEndCall)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "call manager not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"memory_backend": s.calls.Backend(),
		"active_calls":   s.calls.Calls().ActiveCount(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondCallError hides everything but session validation behind a generic 500.
func (s *Server) respondCallError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, lifecycle.ErrInvalidSession) {
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}
	s.log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("call handling failed")
	respondError(w, http.StatusInternalServerError, "internal_error", "call handling failed")
}
