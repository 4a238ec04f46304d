// Package api exposes the environment registry over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/p-arndt/fabrik/internal/config"
)

type Server struct {
	cfg      *config.Config
	sessions SessionService
	logger   *slog.Logger
	router   chi.Router
}

func NewServer(cfg *config.Config, sessions SessionService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Health check (no auth)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/envs", s.handleListEnvs)
		r.Post("/sessions", s.handleCreateSession)

		r.Route("/envs/{env}/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/{id}/commands", s.handleUpdateSession)
			r.Delete("/{id}", s.handleDestroySession)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
