package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/charmem/internal/config"
	"github.com/dgallion1/charmem/internal/llm"
	"github.com/dgallion1/charmem/internal/pipeline"
	"github.com/dgallion1/charmem/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for charmem.
type Server struct {
	router       chi.Router
	sessions     *session.Manager
	ingester     *pipeline.Ingester
	orchestrator *pipeline.Orchestrator
	llm          *llm.Instrumented
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. gen may be nil, in
// which case LLM stats are reported as unavailable.
func NewServer(sessions *session.Manager, ingester *pipeline.Ingester, orch *pipeline.Orchestrator, gen *llm.Instrumented, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		sessions:     sessions,
		ingester:     ingester,
		orchestrator: orch,
		llm:          gen,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Post("/upload-pdf", s.handleUpload)
	r.Get("/pdf/{filename}", s.handleServeUpload)
	r.Post("/query-character", s.handleQueryCharacter)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/books", s.handleCreateBook)
		r.Get("/books/jobs/{jobID}", s.handleJobStatus)
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/{sessionID}/first-mention", s.handleFirstMention)
		r.Post("/sessions/{sessionID}/introduced", s.handleIntroduced)
		r.Get("/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
