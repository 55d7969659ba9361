package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/handler/views"
	"github.com/pavelanni/proctor/internal/llm"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/scoring"
)

// session loads the session named in the URL and checks that the current
// user may see it. It writes the error response and returns false otherwise.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (model.ExamSession, bool) {
	sess, err := h.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		storeError(w, "session", err)
		return model.ExamSession{}, false
	}
	user := model.UserFromContext(r.Context())
	if sess.UserID != user.ID && !isStaff(user) {
		writeError(w, http.StatusNotFound, "session not found")
		return model.ExamSession{}, false
	}
	return sess, true
}

func (h *Handler) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	exam, err := h.store.GetExam(r.Context(), sess.ExamID)
	if err != nil {
		storeError(w, "exam", err)
		return
	}
	counts, err := h.store.EventCounts(r.Context(), sess.ID)
	if err != nil {
		storeError(w, "events", err)
		return
	}
	if !isStaff(model.UserFromContext(r.Context())) {
		exam = exam.WithoutAnswers()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":        sess,
		"exam_title":     exam.Title,
		"questions":      exam.Questions,
		"events_summary": counts,
		"video_path":     exam.VideoPath,
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if sess.UserID != model.UserFromContext(r.Context()).ID {
		writeError(w, http.StatusForbidden, "only the student can submit a session")
		return
	}
	var body struct {
		Answers map[string]string `json:"answers"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission: "+err.Error())
		return
	}

	done, err := h.store.SubmitSession(r.Context(), sess.ID, body.Answers)
	if err != nil {
		storeError(w, "session", err)
		return
	}
	if err := h.tracker.Evict(r.Context(), sess.ID); err != nil {
		slog.Warn("evict session state", "session_id", sess.ID, "error", err)
	}
	h.analyzeStyle(sess.ID, body.Answers)

	slog.Info("exam submitted", "session_id", sess.ID, "score", *done.Score)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Exam submitted successfully",
		"score":      done.Score,
		"session_id": sess.ID,
	})
}

// analyzeStyle checks the submitted answers for writing style changes in the
// background and logs a writing_style_drift event when one is found.
func (h *Handler) analyzeStyle(sessionID string, answers map[string]string) {
	if h.llm == nil {
		return
	}
	h.background.Go(func() {
		ctx := context.Background()
		res, err := h.llm.AnalyzeWritingStyle(ctx, answers)
		if errors.Is(err, llm.ErrNoCredentials) {
			slog.Debug("writing style analysis skipped", "session_id", sessionID, "error", err)
			return
		}
		if err != nil {
			slog.Warn("writing style analysis failed", "session_id", sessionID, "error", err)
			return
		}
		if !res.HasStyleChange {
			return
		}
		data, err := json.Marshal(map[string]any{
			"similarity_score": 1 - res.ConfidenceScore,
			"drift_score":      res.ConfidenceScore,
			"inconsistencies":  res.StyleInconsistencies,
			"summary":          res.AnalysisSummary,
			"samples_compared": res.SamplesCompared,
		})
		if err != nil {
			slog.Error("encode style drift", "error", err)
			return
		}
		_, err = h.store.AppendEvent(ctx, model.Event{
			SessionID: sessionID,
			Type:      model.EventWritingStyleDrift,
			Data:      data,
			Timestamp: time.Now().UnixMilli(),
		})
		if err != nil {
			slog.Error("append style drift event", "session_id", sessionID, "error", err)
			return
		}
		slog.Info("writing style drift detected", "session_id", sessionID, "confidence", res.ConfidenceScore)
	})
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.store.TerminateSession(r.Context(), sessionID); err != nil {
		storeError(w, "session", err)
		return
	}
	if err := h.tracker.Evict(r.Context(), sessionID); err != nil {
		slog.Warn("evict session state", "session_id", sessionID, "error", err)
	}
	slog.Info("exam session terminated", "session_id", sessionID,
		"by", model.UserFromContext(r.Context()).Username)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) (scoring.Analytics, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		storeError(w, "session", err)
		return scoring.Analytics{}, false
	}
	events, err := h.store.GetEventHistory(r.Context(), sessionID)
	if err != nil {
		storeError(w, "events", err)
		return scoring.Analytics{}, false
	}
	return scoring.BuildAnalytics(sessionID, events), true
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analytics(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	a, ok := h.analytics(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.SessionReport(a, h.config.Lang).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleSuspicion(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snap, ok, err := h.tracker.Snapshot(r.Context(), sessionID)
	if err != nil {
		slog.Error("read suspicion state", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no live suspicion state for session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleLive upgrades to the session's WebSocket channel.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	sess, err := h.store.GetSession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		storeError(w, "session", err)
		return
	}
	user := model.UserFromContext(r.Context())
	if sess.ExamID != examID || sess.UserID != user.ID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != model.StatusActive {
		writeError(w, http.StatusConflict, "exam session is not active")
		return
	}
	h.hub.Serve(w, r, sess.ID, examID)
}
