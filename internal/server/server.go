// Package server exposes the record store, search, stats and chat over a
// local JSON API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/hession/convscope/internal/chat"
	"github.com/hession/convscope/internal/importer"
	"github.com/hession/convscope/internal/search"
	"github.com/hession/convscope/internal/settings"
	"github.com/hession/convscope/internal/stats"
	"github.com/hession/convscope/internal/store"
)

// maxImportBytes bounds an uploaded export file.
const maxImportBytes = 256 << 20

// Options configures the HTTP server
type Options struct {
	Addr           string
	AllowedOrigins []string
	// DefaultPrompt is used by /api/summarize when the request has none.
	DefaultPrompt string
	// RequestTimeout bounds non-LLM requests; summarize and chat use the
	// client's own deadline.
	RequestTimeout time.Duration
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	handler    *handler
}

type handler struct {
	store         store.Store
	search        *search.Engine
	stats         *stats.Aggregator
	importer      *importer.Importer
	chat          *chat.Service
	settings      settings.Repository
	defaultPrompt string
}

// New builds and wires all routes.
func New(opts Options, st store.Store, svc *chat.Service, repo settings.Repository) *Server {
	h := &handler{
		store:         st,
		search:        search.NewEngine(st),
		stats:         stats.NewAggregator(st),
		importer:      importer.New(st),
		chat:          svc,
		settings:      repo,
		defaultPrompt: opts.DefaultPrompt,
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(local chi.Router) {
			local.Use(middleware.Timeout(opts.RequestTimeout))

			local.Get("/conversations", h.searchConversations)
			local.Get("/conversations/{id}", h.getConversation)
			local.Get("/conversations/{id}/messages", h.getMessages)
			local.Get("/conversations/{id}/stats", h.getConversationStats)

			local.Post("/import", h.importConversations)
			local.Post("/export", h.exportConversations)
			local.Delete("/data", h.resetData)

			local.Get("/stats", h.getCorpusStats)
			local.Get("/stats/monthly", h.getMonthly)
			local.Get("/stats/most-active", h.getMostActive)

			local.Get("/chat/sessions", h.listSessions)
			local.Post("/chat/sessions", h.createSession)
			local.Get("/chat/sessions/{id}/messages", h.getSessionMessages)
			local.Delete("/chat", h.clearChat)

			local.Get("/endpoints", h.listEndpoints)
		})

		// the LLM client applies its own deadline
		api.Post("/summarize", h.summarize)
		api.Post("/chat/sessions/{id}/messages", h.sendMessage)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: h,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
