// Package httpapi is the HTTP surface of the tutoring backend: the
// server-push stream, stroke ingestion, voice endpoints, the TTS fetch,
// and the admin/debug/perf/simulation endpoints. Routing uses a single
// chi.NewRouter() with route groups per concern.
package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/reeftutor/reef/internal/config"
	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/observability"
	"github.com/reeftutor/reef/internal/pipeline"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/tts"
	"github.com/reeftutor/reef/internal/ttsregistry"
)

// Server wires the pipeline coordination layer to a chi router.
type Server struct {
	cfg       config.Config
	pipeline  *pipeline.Pipeline
	sessions  *session.Manager
	store     store.Store
	broker    *events.Broker
	tts       *ttsregistry.Registry
	ttsClient *tts.Client
	assembler *promptctx.Assembler
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader
}

func New(
	cfg config.Config,
	p *pipeline.Pipeline,
	sessions *session.Manager,
	st store.Store,
	broker *events.Broker,
	ttsRegistry *ttsregistry.Registry,
	ttsClient *tts.Client,
	assembler *promptctx.Assembler,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:       cfg,
		pipeline:  p,
		sessions:  sessions,
		store:     st,
		broker:    broker,
		tts:       ttsRegistry,
		ttsClient: ttsClient,
		assembler: assembler,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
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

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/events", s.handleEvents)

	r.Post("/strokes/connect", s.handleStrokesConnect)
	r.Post("/strokes/disconnect", s.handleStrokesDisconnect)
	r.Post("/strokes", s.handleStrokes)
	r.Post("/strokes/clear", s.handleStrokesClear)

	r.Post("/voice/transcribe", s.handleVoiceTranscribe)
	r.Post("/voice/question", s.handleVoiceQuestion)

	r.Get("/tts/stream/{tts_id}", s.handleTTSStream)

	r.Post("/simulation/start", s.handleSimulationStart)
	r.Post("/simulation/write", s.handleSimulationWrite)
	r.Post("/simulation/ask", s.handleSimulationAsk)
	r.Post("/simulation/reset", s.handleSimulationReset)

	r.Get("/v1/admin/sessions", s.handleAdminSessions)
	r.Get("/v1/admin/sessions/ws", s.handleAdminSessionsWS)
	r.Get("/v1/debug/context", s.handleDebugContext)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "active_sessions": s.sessions.ActiveCount()})
}
