package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/store"
)

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		storeError(w, "exams", err)
		return
	}
	if !isStaff(model.UserFromContext(r.Context())) {
		for i := range exams {
			exams[i] = exams[i].WithoutAnswers()
		}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := h.store.GetExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		storeError(w, "exam", err)
		return
	}
	if !isStaff(model.UserFromContext(r.Context())) {
		exam = exam.WithoutAnswers()
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if err := decodeJSON(w, r, &exam); err != nil {
		writeError(w, http.StatusBadRequest, "invalid exam: "+err.Error())
		return
	}
	if exam.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	for _, q := range exam.Questions {
		if q.Question == "" {
			writeError(w, http.StatusBadRequest, "every question needs text")
			return
		}
	}
	exam.CreatedBy = model.UserFromContext(r.Context()).ID

	created, err := h.store.CreateExam(r.Context(), exam)
	if err != nil {
		storeError(w, "exam", err)
		return
	}
	slog.Info("exam created", "exam_id", created.ID, "questions", len(created.Questions))
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	user := model.UserFromContext(r.Context())

	sess, err := h.store.StartSession(r.Context(), examID, user.ID)
	if errors.Is(err, store.ErrActiveSession) {
		active, aerr := h.store.ActiveSession(r.Context(), examID, user.ID)
		if aerr != nil {
			storeError(w, "session", aerr)
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{"detail": err.Error(), "session": active})
		return
	}
	if err != nil {
		storeError(w, "exam", err)
		return
	}
	slog.Info("exam session started", "session_id", sess.ID, "exam_id", examID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		storeError(w, "sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func isStaff(u *model.User) bool {
	return u != nil && hasRole(u, model.UserRoleTeacher, model.UserRoleAdmin)
}
