package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/middleware"
	"github.com/inbox/internal/ws"
)

// WSHandler attaches websocket clients to the session hub. Each accepted
// connection becomes one inbox session: directory, open timeline and
// presence for the authenticated user.
type WSHandler struct {
	hub      *ws.Hub
	anyOrig  bool
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler takes the CORS origin setting: "*", empty, or a comma
// separated list.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			h.anyOrig = true
		default:
			h.origins[o] = struct{}{}
		}
	}
	if len(h.origins) == 0 {
		h.anyOrig = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed lets through non-browser clients, which send no Origin.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	if h.anyOrig {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeWS upgrades an authenticated request and hands the connection to the
// hub, which starts the user's session once the client registers. The
// session outlives the request, so it gets its own context.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.originAllowed(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws: upgrade for user=%s: %v", userID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := h.hub.NewClient(conn, userID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
