// Package composer implements the write operations of the inbox: sending a
// message, creating a chat and tagging one.
package composer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/events"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/metrics"
	"github.com/inbox/internal/model"
)

type Store interface {
	GetUser(ctx context.Context, id string) (mapper.UserRow, error)
	InsertMessage(ctx context.Context, row mapper.MessageRow) error
	CreateChat(ctx context.Context, row mapper.ChatRow) error
	DeleteChat(ctx context.Context, chatID string) error
	AddParticipants(ctx context.Context, rows []mapper.ParticipantRow) error
	AddTags(ctx context.Context, rows []mapper.TagRow) error
	GetChat(ctx context.Context, chatID string) (mapper.ChatRow, error)
}

type Composer struct {
	store   Store
	pub     events.Publisher
	service string
	now     func() time.Time
}

type Option func(*Composer)

// WithClock replaces time.Now as the source of message and chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

// WithService sets the service name stamped on published events.
func WithService(name string) Option {
	return func(c *Composer) { c.service = name }
}

func New(st Store, pub events.Publisher, opts ...Option) *Composer {
	if pub == nil {
		pub = events.Noop()
	}
	c := &Composer{store: st, pub: pub, service: "api", now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

type sendOptions struct {
	forwardedFrom string
	attachment    *model.Attachment
}

type SendOption func(*sendOptions)

func WithForwardedFrom(name string) SendOption {
	return func(o *sendOptions) { o.forwardedFrom = name }
}

func WithAttachment(url, kind string) SendOption {
	return func(o *sendOptions) {
		if url != "" {
			o.attachment = &model.Attachment{URL: url, Type: kind}
		}
	}
}

// SendMessage persists a new message with status sent and returns it with
// the sender filled in. The change feed delivers it to every open timeline,
// the sender's included.
func (c *Composer) SendMessage(ctx context.Context, chatID, text, senderID string, opts ...SendOption) (model.Message, error) {
	if senderID == "" {
		return model.Message{}, errs.ErrAuthRequired
	}
	var o sendOptions
	for _, fn := range opts {
		fn(&o)
	}
	if strings.TrimSpace(text) == "" && o.attachment == nil {
		return model.Message{}, errs.ErrEmptyMessage
	}

	row := mapper.MessageRow{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    senderID,
		Text:      text,
		Status:    string(model.MessageStatusSent),
		CreatedAt: mapper.FormatTimestamp(c.now()),
	}
	if o.forwardedFrom != "" {
		row.ForwardedFrom = &o.forwardedFrom
	}
	if o.attachment != nil {
		row.AttachmentURL = &o.attachment.URL
		row.AttachmentType = &o.attachment.Type
	}
	if err := c.store.InsertMessage(ctx, row); err != nil {
		metrics.WriteErrors.WithLabelValues("send_message").Inc()
		logger.Errorf("composer: send to %s: %v", chatID, err)
		return model.Message{}, errs.Write("composer.SendMessage", err)
	}

	var sender model.User
	if u, err := c.store.GetUser(ctx, senderID); err == nil {
		sender = mapper.ToUser(u)
	} else {
		logger.Errorf("composer: sender %s: %v", senderID, err)
	}
	msg := mapper.ToMessage(row, sender.FullName)
	if sender.ID != "" {
		sender.FullName = msg.Sender.FullName
		msg.Sender = sender
	}

	c.publish(ctx, events.MessageSent, senderID, msg)
	return msg, nil
}

// CreateChat creates the chat, then its participants (the creator as admin),
// then its tags. A participant failure deletes the chat again; a tag failure
// is logged and the chat is returned without tags.
func (c *Composer) CreateChat(ctx context.Context, creatorID, name string, isGroup bool, participantIDs []string, tags []model.Tag) (model.Chat, error) {
	if creatorID == "" {
		return model.Chat{}, errs.ErrAuthRequired
	}
	row := mapper.ChatRow{
		ID:        uuid.NewString(),
		Name:      name,
		IsGroup:   isGroup,
		CreatedBy: creatorID,
		CreatedAt: mapper.FormatTimestamp(c.now()),
	}
	if err := c.store.CreateChat(ctx, row); err != nil {
		metrics.WriteErrors.WithLabelValues("create_chat").Inc()
		return model.Chat{}, errs.Write("composer.CreateChat", err)
	}

	members := participantRows(row.ID, creatorID, participantIDs)
	if err := c.store.AddParticipants(ctx, members); err != nil {
		metrics.WriteErrors.WithLabelValues("add_participants").Inc()
		logger.Errorf("composer: participants of %s: %v", row.ID, err)
		if delErr := c.store.DeleteChat(ctx, row.ID); delErr != nil {
			logger.Errorf("composer: delete orphan chat %s: %v", row.ID, delErr)
		}
		return model.Chat{}, errs.Write("composer.CreateChat", err)
	}

	tagRows := tagRows(row.ID, tags)
	if len(tagRows) > 0 {
		if err := c.store.AddTags(ctx, tagRows); err != nil {
			metrics.WriteErrors.WithLabelValues("add_tags").Inc()
			logger.Errorf("composer: tags of %s: %v", row.ID, err)
			tagRows = nil
		}
	}

	stored, err := c.store.GetChat(ctx, row.ID)
	if err != nil {
		logger.Errorf("composer: re-read chat %s: %v", row.ID, err)
		stored = row
		for _, m := range members {
			stored.Participants = append(stored.Participants, c.user(ctx, m.UserID))
		}
		stored.Tags = tagRows
	}
	chat := mapper.ToChat(stored, nil, 0)

	c.publish(ctx, events.ChatCreated, creatorID, chat)
	return chat, nil
}

// AddTag attaches a tag to chatID. An identical tag already present is left
// as is.
func (c *Composer) AddTag(ctx context.Context, chatID, tagType, label string) (model.Tag, error) {
	tag := model.Tag{Type: tagType, Label: label}
	if err := c.store.AddTags(ctx, []mapper.TagRow{{ChatID: chatID, Type: tagType, Label: label}}); err != nil {
		metrics.WriteErrors.WithLabelValues("add_tags").Inc()
		return model.Tag{}, errs.Write("composer.AddTag", err)
	}
	c.publish(ctx, events.ChatTagged, "", map[string]any{"chat_id": chatID, "tag": tag})
	return tag, nil
}

func (c *Composer) user(ctx context.Context, id string) mapper.UserRow {
	u, err := c.store.GetUser(ctx, id)
	if err != nil {
		return mapper.UserRow{ID: id}
	}
	return u
}

func (c *Composer) publish(ctx context.Context, key, userID string, payload any) {
	if err := c.pub.Publish(ctx, key, events.NewEnvelope(key, c.service, userID, payload)); err != nil {
		logger.Errorf("composer: publish %s: %v", key, err)
	}
}

func participantRows(chatID, creatorID string, ids []string) []mapper.ParticipantRow {
	seen := map[string]bool{creatorID: true}
	rows := []mapper.ParticipantRow{{ChatID: chatID, UserID: creatorID, Role: string(model.RoleAdmin)}}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, mapper.ParticipantRow{ChatID: chatID, UserID: id, Role: string(model.RoleMember)})
	}
	return rows
}

func tagRows(chatID string, tags []model.Tag) []mapper.TagRow {
	seen := make(map[model.Tag]bool)
	var rows []mapper.TagRow
	for _, t := range tags {
		if t.Label == "" || seen[t] {
			continue
		}
		seen[t] = true
		rows = append(rows, mapper.TagRow{ChatID: chatID, Type: t.Type, Label: t.Label})
	}
	return rows
}
