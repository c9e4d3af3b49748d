package handler

import (
	"encoding/json"
	"net/http"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/middleware"
	"github.com/inbox/internal/storage"
)

type PushHandler struct {
	store     storage.PushStore
	publicKey string
}

// NewPushHandler serves subscriptions; publicKey is empty when push is disabled.
func NewPushHandler(st storage.PushStore, publicKey string) *PushHandler {
	return &PushHandler{store: st, publicKey: publicKey}
}

// SubscribeRequest carries PushManager.getSubscription() from the browser.
type SubscribeRequest struct {
	Subscription storage.PushSubscription `json:"subscription"`
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sub := req.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.store.AddPushSubscription(r.Context(), userID, sub); err != nil {
		logger.Errorf("push subscribe %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.store.RemovePushSubscription(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
