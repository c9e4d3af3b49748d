package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inbox/internal/composer"
	"github.com/inbox/internal/directory"
	"github.com/inbox/internal/middleware"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/store"
)

type ChatHandler struct {
	store    store.Store
	composer *composer.Composer
	sort     directory.Sort
}

func NewChatHandler(st store.Store, c *composer.Composer, sort directory.Sort) *ChatHandler {
	return &ChatHandler{store: st, composer: c, sort: sort}
}

type CreateChatRequest struct {
	Name           string      `json:"name"`
	IsGroup        bool        `json:"is_group"`
	ParticipantIDs []string    `json:"participant_ids"`
	Tags           []model.Tag `json:"tags"`
}

type AddTagRequest struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// GetUserChats returns the caller's chat directory.
func (h *ChatHandler) GetUserChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := directory.New(h.store, directory.WithSort(h.sort)).LoadChats(r.Context(), userID)
	if err != nil {
		writeFailure(w, err, "failed to load chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.IsGroup && req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	chat, err := h.composer.CreateChat(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.IsGroup, req.ParticipantIDs, req.Tags)
	if err != nil {
		writeFailure(w, err, "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	var req AddTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	if !requireMember(w, r, h.store, chatID, middleware.GetUserID(r.Context())) {
		return
	}
	tag, err := h.composer.AddTag(r.Context(), chatID, req.Type, req.Label)
	if err != nil {
		writeFailure(w, err, "failed to add tag")
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}
