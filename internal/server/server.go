// Package server exposes the HTTP API: the interpret endpoint plus CRUD
// over training records.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ttommys/trainos/internal/config"
	"github.com/ttommys/trainos/internal/interpret"
	"github.com/ttommys/trainos/internal/llm"
	"github.com/ttommys/trainos/internal/prompts"
	"github.com/ttommys/trainos/internal/store"
	"github.com/ttommys/trainos/internal/tools"
)

type Server struct {
	cfg         *config.Config
	store       *store.Store
	interpreter *interpret.Service
	log         *zap.Logger
	http        *http.Server
}

func New(cfg *config.Config, st *store.Store, interpreter *interpret.Service, log *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		interpreter: interpreter,
		log:         log,
	}
}

// Handler builds the route table. Exposed for httptest use.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/llm/interpret", s.handleInterpret)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("PUT /api/sessions/{id}", s.handleUpdateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("GET /api/day-notes", s.handleListDayNotes)
	mux.HandleFunc("POST /api/day-notes", s.handleUpsertDayNote)

	mux.HandleFunc("POST /api/plans", s.handleUpsertPlan)
	mux.HandleFunc("GET /api/plans/{year}/{week}", s.handleGetPlan)

	mux.HandleFunc("GET /api/summary/week/{year}/{week}", s.handleWeekSummary)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.log.Info("http server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the failure taxonomy onto status codes: client-correctable
// input problems are 400, missing records and prompts 404, upstream provider
// failures 502.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var reqErr *interpret.RequestError
	var valErr *tools.ValidationError
	var cfgErr *llm.ConfigurationError
	var provErr *llm.ProviderError
	switch {
	case errors.As(err, &reqErr), errors.As(err, &valErr), errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, prompts.ErrPromptNotFound):
		status = http.StatusNotFound
	case errors.As(err, &provErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &interpret.RequestError{Reason: "malformed JSON body: " + err.Error()}
	}
	return nil
}
