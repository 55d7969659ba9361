package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/store"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		storeError(w, "users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	displayName := r.FormValue("display_name")
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	switch role {
	case "":
		role = model.UserRoleStudent
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "unknown role "+string(role))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if displayName == "" {
		displayName = username
	}

	u := model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	u.ID, err = h.store.CreateUser(r.Context(), u)
	if err != nil {
		slog.Error("failed to create user", "error", err)
		writeError(w, http.StatusConflict, "failed to create user: "+err.Error())
		return
	}

	slog.Info("user created", "username", username, "role", role)
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to toggle user active", "id", id, "error", err)
		}
		storeError(w, "user", err)
		return
	}

	u, err := h.store.GetUserByID(r.Context(), id)
	if err == nil && u == nil {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(w, "user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
