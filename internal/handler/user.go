package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/middleware"
	"github.com/inbox/internal/store"
)

type UserHandler struct {
	users store.Users
}

func NewUserHandler(users store.Users) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, middleware.GetUserID(r.Context()))
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, chi.URLParam(r, "id"))
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, id string) {
	row, err := h.users.GetUser(r.Context(), id)
	if errors.Is(err, errs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeFailure(w, err, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, mapper.ToUser(row))
}
