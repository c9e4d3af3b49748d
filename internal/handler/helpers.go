package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps a domain error to its HTTP status.
func writeFailure(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, errs.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errs.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotMember):
		writeError(w, http.StatusForbidden, "not a member")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.Errorf("%s: %v", msg, err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

type participantLister interface {
	ParticipantIDs(ctx context.Context, chatID string) ([]string, error)
}

// requireMember writes 403 or 500 and returns false unless userID is in chatID.
func requireMember(w http.ResponseWriter, r *http.Request, st participantLister, chatID, userID string) bool {
	ids, err := st.ParticipantIDs(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !slices.Contains(ids, userID) {
		writeError(w, http.StatusForbidden, "not a member")
		return false
	}
	return true
}
