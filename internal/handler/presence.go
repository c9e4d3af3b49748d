package handler

import (
	"net/http"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/storage"
)

type PresenceHandler struct {
	store storage.PresenceStore
}

func NewPresenceHandler(st storage.PresenceStore) *PresenceHandler {
	return &PresenceHandler{store: st}
}

// GetPresence lists online users, or answers for one user with ?user_id=.
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		online, err := h.store.IsOnline(r.Context(), userID)
		if err != nil {
			logger.Errorf("presence %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "failed to get presence")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "online": online})
		return
	}
	users, err := h.store.Online(r.Context())
	if err != nil {
		logger.Errorf("presence: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get presence")
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"online": users})
}
