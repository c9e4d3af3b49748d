package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/metrics"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/storage"
)

const (
	queueSize   = 256
	maxBodyLen  = 120
	sendTimeout = 10 * time.Second
)

// Directory is what the dispatcher reads about chats and users.
type Directory interface {
	ParticipantIDs(ctx context.Context, chatID string) ([]string, error)
	GetUser(ctx context.Context, id string) (mapper.UserRow, error)
}

type Feed interface {
	Subscribe(scope feed.Scope, mask feed.EventMask, h feed.Handler) *feed.Subscription
}

// Notification is the JSON payload the service worker receives.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Dispatcher turns message inserts from the feed into Web Push notifications
// for participants other than the sender that are not online.
type Dispatcher struct {
	dir      Directory
	subs     storage.PushStore
	presence storage.PresenceStore
	sender   Sender
	jobs     chan mapper.MessageRow
}

func NewDispatcher(dir Directory, subs storage.PushStore, presence storage.PresenceStore, sender Sender) *Dispatcher {
	return &Dispatcher{
		dir:      dir,
		subs:     subs,
		presence: presence,
		sender:   sender,
		jobs:     make(chan mapper.MessageRow, queueSize),
	}
}

// Subscribe feeds message inserts into the dispatcher queue. The handler
// never blocks the feed: when the queue is full the notification is dropped.
func (d *Dispatcher) Subscribe(f Feed) (cancel func()) {
	sub := f.Subscribe(feed.Table("messages"), feed.MaskInsert, func(ev feed.Event) {
		row, err := mapper.DecodeMessageRow(ev.Row())
		if err != nil {
			logger.Errorf("push: decode message: %v", err)
			return
		}
		select {
		case d.jobs <- row:
		default:
			metrics.PushSent.WithLabelValues("dropped").Inc()
		}
	})
	return sub.Cancel
}

// Run sends queued notifications until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-d.jobs:
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			d.NotifyMessage(sctx, row)
			cancel()
		}
	}
}

// NotifyMessage pushes row to every offline recipient's subscriptions.
// Subscriptions the push service reports as gone (404, 410) are removed.
func (d *Dispatcher) NotifyMessage(ctx context.Context, row mapper.MessageRow) {
	recipients, err := d.dir.ParticipantIDs(ctx, row.ChatID)
	if err != nil {
		logger.Errorf("push: participants of %s: %v", row.ChatID, err)
		return
	}
	var payload []byte
	for _, userID := range recipients {
		if userID == row.UserID {
			continue
		}
		online, err := d.presence.IsOnline(ctx, userID)
		if err != nil {
			logger.Errorf("push: presence of %s: %v", userID, err)
		}
		if online {
			continue
		}
		subs, err := d.subs.PushSubscriptions(ctx, userID)
		if err != nil {
			logger.Errorf("push: subscriptions of %s: %v", userID, err)
			continue
		}
		if len(subs) == 0 {
			continue
		}
		if payload == nil {
			payload = d.payload(ctx, row)
		}
		for _, sub := range subs {
			d.send(ctx, userID, payload, sub)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, userID string, payload []byte, sub storage.PushSubscription) {
	status, err := d.sender.Send(ctx, payload, sub)
	switch {
	case err != nil:
		metrics.PushSent.WithLabelValues("failed").Inc()
		logger.Errorf("push: send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
	case status == http.StatusGone || status == http.StatusNotFound:
		metrics.PushSent.WithLabelValues("expired").Inc()
		if err := d.subs.RemovePushSubscription(ctx, userID, sub.Endpoint); err != nil {
			logger.Errorf("push: remove subscription of %s: %v", userID, err)
		}
	case status >= 300:
		metrics.PushSent.WithLabelValues("failed").Inc()
		logger.Errorf("push: send to %s: status %d", userID, status)
	default:
		metrics.PushSent.WithLabelValues("sent").Inc()
	}
}

func (d *Dispatcher) payload(ctx context.Context, row mapper.MessageRow) []byte {
	name := model.UnknownSender
	if u, err := d.dir.GetUser(ctx, row.UserID); err == nil && u.FullName != "" {
		name = u.FullName
	}
	body := row.Text
	if body == "" && row.AttachmentType != nil {
		body = "[" + *row.AttachmentType + "]"
	}
	if utf8.RuneCountInString(body) > maxBodyLen {
		body = string([]rune(body)[:maxBodyLen]) + "…"
	}
	b, _ := json.Marshal(Notification{
		Title: name,
		Body:  body,
		Data:  map[string]string{"chat_id": row.ChatID, "message_id": row.ID},
	})
	return b
}
