package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/live"
	"github.com/pavelanni/proctor/internal/llm"
	"github.com/pavelanni/proctor/internal/metrics"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/store"
	"github.com/pavelanni/proctor/internal/tracker"
)

// StyleAnalyzer compares the writing style of a student's answers.
type StyleAnalyzer interface {
	AnalyzeWritingStyle(ctx context.Context, answers map[string]string) (llm.StyleAnalysis, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	llm     StyleAnalyzer
	tracker tracker.Tracker
	hub     *live.Hub
	config  model.Config

	// background tracks work started by requests that outlives them.
	background sync.WaitGroup
}

// New creates a new Handler. style may be nil to skip writing style analysis.
func New(s *store.Store, style StyleAnalyzer, t tracker.Tracker, hub *live.Hub, cfg model.Config) *Handler {
	return &Handler{store: s, llm: style, tracker: t, hub: hub, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/me", h.handleMe)

		r.Get("/exams", h.handleListExams)
		r.Get("/exams/{examID}", h.handleGetExam)
		r.Post("/exams/{examID}/start", h.handleStartSession)
		r.Get("/exams/{examID}/ws", h.handleLive)

		r.Get("/sessions/{sessionID}", h.handleSessionResults)
		r.Post("/sessions/{sessionID}/submit", h.handleSubmit)
		r.Get("/sessions/{sessionID}/viva", h.handleGetViva)
		r.Post("/sessions/{sessionID}/viva", h.handleSubmitViva)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Post("/exams", h.handleCreateExam)
			r.Get("/exams/{examID}/sessions", h.handleListSessions)
			r.Post("/sessions/{sessionID}/terminate", h.handleTerminate)
			r.Get("/sessions/{sessionID}/analytics", h.handleAnalytics)
			r.Get("/sessions/{sessionID}/report", h.handleReport)
			r.Get("/sessions/{sessionID}/suspicion", h.handleSuspicion)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUserActive)
		})
	})
}

// Wait blocks until background work started by requests has finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "live_connections": h.hub.Connections()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// storeError maps store errors to HTTP responses.
func storeError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrActiveSession), errors.Is(err, store.ErrSessionClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("store error", "what", what, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}
