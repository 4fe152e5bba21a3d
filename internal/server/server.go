// internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/orchestrator"
	"github.com/xkilldash9x/marionette/internal/state"
)

// Server exposes the agent over HTTP: state inspection, start/stop control,
// goal updates and the action log.
type Server struct {
	store   *state.Store
	journal *state.Journal
	orch    *orchestrator.Orchestrator
	logger  *zap.Logger
	http    *http.Server
}

// New wires the HTTP front end.
func New(cfg config.ServerConfig, store *state.Store, journal *state.Journal, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	s := &Server{
		store:   store,
		journal: journal,
		orch:    orch,
		logger:  logger.Named("http_server"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodPost)
	router.HandleFunc("/api/logs", s.handleLogs).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening.", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type startRequest struct {
	Mode        string `json:"mode"`
	Goal        string `json:"goal"`
	ActiveStart string `json:"active_start"`
	ActiveStop  string `json:"active_stop"`
}

type configRequest struct {
	Mode        *string `json:"mode"`
	Goal        *string `json:"goal"`
	Task        *string `json:"task"`
	ActiveStart *string `json:"active_start"`
	ActiveStop  *string `json:"active_stop"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.State())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	mode := state.ModeGoal
	if state.Mode(req.Mode) == state.ModeFreeroam {
		mode = state.ModeFreeroam
	}

	if err := s.orch.Start(req.Goal, mode, req.ActiveStart, req.ActiveStop); err != nil {
		s.logger.Error("Failed to start agent loop.", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start agent")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(); err != nil {
		s.logger.Error("Failed to stop agent loop.", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to stop agent")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleConfig updates goal, mode, task or activity window without touching
// the run state. Omitted fields keep their current values.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	current := s.store.State()

	goal := current.Goal
	if req.Goal != nil {
		goal = *req.Goal
	}
	mode := current.Mode
	if req.Mode != nil && (state.Mode(*req.Mode) == state.ModeGoal || state.Mode(*req.Mode) == state.ModeFreeroam) {
		mode = state.Mode(*req.Mode)
	}
	if err := s.store.SetGoal(goal, mode); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to persist goal")
		return
	}

	if req.Task != nil {
		if err := s.store.SetTask(*req.Task); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to persist task")
			return
		}
	}

	start := current.ActiveWindowStart
	stop := current.ActiveWindowStop
	if req.ActiveStart != nil {
		start = *req.ActiveStart
	}
	if req.ActiveStop != nil {
		stop = *req.ActiveStop
	}
	if err := s.store.SetActiveWindow(start, stop); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to persist activity window")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "updated",
		"state":  s.store.State(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.journal.Tail(50)
	if err != nil {
		s.logger.Error("Failed to read action log.", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read action log")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.orch.Running(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response.", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
