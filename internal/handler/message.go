package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inbox/internal/composer"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/middleware"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/readstate"
	"github.com/inbox/internal/store"
	"github.com/inbox/internal/timeline"
)

type MessageHandler struct {
	store    store.Store
	composer *composer.Composer
	tracker  *readstate.Tracker
	loc      *time.Location
}

func NewMessageHandler(st store.Store, c *composer.Composer, loc *time.Location) *MessageHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &MessageHandler{store: st, composer: c, tracker: readstate.NewTracker(st), loc: loc}
}

type SendMessageRequest struct {
	Text           string `json:"text"`
	ForwardedFrom  string `json:"forwarded_from"`
	AttachmentURL  string `json:"attachment_url"`
	AttachmentType string `json:"attachment_type"`
}

type TimelineResponse struct {
	ChatID string               `json:"chat_id"`
	Groups []timeline.DateGroup `json:"groups"`
}

// GetMessages returns the chat's messages grouped by day in the zone given by
// ?tz= (an IANA name), or the server's default zone.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())
	loc := h.loc
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tz")
			return
		}
		loc = l
	}
	if !requireMember(w, r, h.store, chatID, userID) {
		return
	}
	records, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		writeFailure(w, err, "failed to get messages")
		return
	}
	msgs := make([]model.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, mapper.ToMessage(rec.Row, rec.SenderName))
	}
	writeJSON(w, http.StatusOK, TimelineResponse{ChatID: chatID, Groups: timeline.GroupByDate(msgs, loc)})
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !requireMember(w, r, h.store, chatID, userID) {
		return
	}
	var opts []composer.SendOption
	if req.ForwardedFrom != "" {
		opts = append(opts, composer.WithForwardedFrom(req.ForwardedFrom))
	}
	if req.AttachmentURL != "" {
		opts = append(opts, composer.WithAttachment(req.AttachmentURL, req.AttachmentType))
	}
	msg, err := h.composer.SendMessage(r.Context(), chatID, req.Text, userID, opts...)
	if err != nil {
		writeFailure(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())
	if !requireMember(w, r, h.store, chatID, userID) {
		return
	}
	n, err := h.tracker.MarkChatRead(r.Context(), chatID, userID)
	if err != nil {
		writeFailure(w, err, "failed to mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}
