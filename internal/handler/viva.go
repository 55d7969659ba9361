package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/tracker"
	"github.com/pavelanni/proctor/internal/viva"
)

func (h *Handler) handleGetViva(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	qs, err := h.store.GetVivaQuestions(r.Context(), sess.ID)
	if err != nil {
		storeError(w, "viva questions", err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) handleSubmitViva(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Answers map[string]string `json:"answers"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid viva submission: "+err.Error())
		return
	}

	qs, err := h.store.GetVivaQuestions(r.Context(), sess.ID)
	if err != nil {
		storeError(w, "viva questions", err)
		return
	}
	if len(qs) == 0 {
		writeError(w, http.StatusNotFound, "No viva questions found for this session")
		return
	}

	score := viva.ScoreVivaAnswers(sess.ID, qs, body.Answers)
	score.Message = appI18n.Td(r.Context(), "VivaScore", map[string]any{"Score": fmt.Sprintf("%.1f", score.Score)})

	_, err = h.store.SaveVivaSubmission(r.Context(), model.VivaSubmission{
		SessionID: sess.ID,
		Answers:   body.Answers,
		Score:     score.Score,
	})
	if err != nil {
		storeError(w, "viva submission", err)
		return
	}
	err = h.tracker.CompleteViva(r.Context(), sess.ID)
	if err != nil && !errors.Is(err, tracker.ErrInvalidTransition) {
		slog.Warn("complete viva", "session_id", sess.ID, "error", err)
	}

	slog.Info("viva submitted", "session_id", sess.ID, "score", score.Score)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"session_id":      score.SessionID,
		"score":           score.Score,
		"total_questions": score.TotalQuestions,
		"message":         score.Message,
	})
}
