package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexacrm/leadflow/internal/pipeline"
)

// ChatHandler runs the per-message pipeline. *pipeline.Pipeline satisfies it.
type ChatHandler interface {
	HandleMessage(ctx context.Context, req pipeline.ChatRequest) (*pipeline.ChatResponse, error)
}

type Server struct {
	router *chi.Mux
	port   int
	chat   ChatHandler
	logger *slog.Logger
}

func NewServer(port int, chat ChatHandler, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		chat:   chat,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/api/v1/chat", s.handleChat)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	resp, err := s.chat.HandleMessage(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrEmptyMessage):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		case errors.Is(err, pipeline.ErrGateway):
			s.logger.Error("chat gateway failure", "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "assistant unavailable"})
		default:
			// Detail stays server-side; the caller sees a generic error.
			s.logger.Error("chat request failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
