package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inbox/internal/composer"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/session"
)

const commandTimeout = 10 * time.Second

// SessionFactory builds the session of a new connection; sink delivers its pushes.
type SessionFactory func(userID string, sink session.Sink) *session.Session

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	newSession SessionFactory
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(newSession SessionFactory, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		newSession: newSession,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// NewClient wraps conn and creates its session. Call Start and then Register.
func (h *Hub) NewClient(conn *websocket.Conn, userID string) *Client {
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan OutgoingMessage, sendBufSize),
		userID: userID,
		done:   make(chan struct{}),
	}
	c.session = h.newSession(userID, c)
	return c
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range all {
		c.Wait()
		c.session.Close(ctx)
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		c.session.Close(context.Background())
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	// Start waits for the feed; keep it off the hub loop.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.session.Start(ctx); err != nil {
			logger.Errorf("ws start session user=%s: %v", c.userID, err)
			c.Close()
		}
	}()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.Close()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.session.Close(ctx)
	}()
}

// HandleMessage runs one UI command against the client's session. Failures
// reach the UI as error pushes from the session.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	s := c.session

	needsChat := msg.Type == EventSelectChat || msg.Type == EventSendMessage ||
		msg.Type == EventMarkRead || msg.Type == EventAddTag
	if needsChat && msg.ChatID == "" {
		c.Push(string(EventError), session.ErrorView{Op: string(msg.Type), Message: "chat_id is required"})
		return
	}

	switch msg.Type {
	case EventSelectChat:
		_ = s.SelectChat(ctx, msg.ChatID)
	case EventSendMessage:
		var opts []composer.SendOption
		if msg.ForwardedFrom != "" {
			opts = append(opts, composer.WithForwardedFrom(msg.ForwardedFrom))
		}
		if msg.AttachmentURL != "" {
			opts = append(opts, composer.WithAttachment(msg.AttachmentURL, msg.AttachmentType))
		}
		_, _ = s.Send(ctx, msg.ChatID, msg.Text, opts...)
	case EventMarkRead:
		_ = s.MarkRead(ctx, msg.ChatID)
	case EventCreateChat:
		_, _ = s.CreateChat(ctx, msg.Name, msg.IsGroup, msg.ParticipantIDs, msg.Tags)
	case EventAddTag:
		_, _ = s.AddTag(ctx, msg.ChatID, msg.TagType, msg.Label)
	case EventRefresh:
		s.Refresh(ctx)
	default:
		c.Push(string(EventError), session.ErrorView{Op: string(msg.Type), Message: "unknown event type"})
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
