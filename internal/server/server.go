// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/llmgateway/core/internal/dispatch"
)

// Server holds the HTTP router and the Dispatcher every request handler
// delegates to. As the teacher's Server attaches the provider registry,
// this one attaches the dispatch pipeline — the single collaborator a
// request handler needs once a canonical.Request has been decoded.
type Server struct {
	router     chi.Router
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	// CreditsMode controls whether a caller with no organization key for
	// the resolved provider falls back to the platform-owned credential.
	// Organization/project CRUD and its own credits toggle are out of
	// scope (§1 Non-goals); this is a single deployment-wide switch.
	CreditsMode bool
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{dispatcher: d, logger: logger, CreditsMode: true}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
