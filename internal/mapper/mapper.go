package mapper

import (
	"github.com/inbox/internal/model"
)

func ToUser(row UserRow) model.User {
	return model.User{
		ID:        row.ID,
		FullName:  row.FullName,
		Email:     row.Email,
		Phone:     deref(row.Phone),
		AvatarURL: deref(row.AvatarURL),
	}
}

// ToChat builds a chat summary. last is nil for a chat without messages.
func ToChat(row ChatRow, last *LastMessage, unread int) model.Chat {
	c := model.Chat{
		ID:                row.ID,
		Name:              row.Name,
		AvatarURL:         deref(row.AvatarURL),
		IsGroup:           row.IsGroup,
		CreatedBy:         row.CreatedBy,
		Participants:      make([]model.User, 0, len(row.Participants)),
		Tags:              make([]model.Tag, 0, len(row.Tags)),
		LastMessage:       model.NoMessagesYet,
		LastMessageStatus: model.MessageStatusSent,
		LastMessageType:   "text",
		UnreadCount:       unread,
	}
	for _, p := range row.Participants {
		c.Participants = append(c.Participants, ToUser(p))
	}
	if len(c.Participants) > 0 {
		c.Phone = c.Participants[0].Phone
	}
	for _, t := range row.Tags {
		c.Tags = append(c.Tags, model.Tag{Type: t.Type, Label: t.Label})
	}
	if t, err := ParseTimestamp(row.CreatedAt); err == nil {
		c.LastMessageTime = t
	}

	if last != nil {
		name := last.SenderName
		if name == "" {
			name = model.UnknownSender
		}
		c.LastMessage = name + ": " + last.Text
		c.LastMessageStatus = normalizeStatus(last.Status)
		if t := deref(last.AttachmentType); t != "" {
			c.LastMessageType = t
		}
		if t, err := ParseTimestamp(last.CreatedAt); err == nil {
			c.LastMessageTime = t
		}
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c
}

// ToMessage builds a message. A malformed created_at is kept in CreatedAtRaw.
func ToMessage(row MessageRow, senderName string) model.Message {
	m := model.Message{
		ID:            row.ID,
		ChatID:        row.ChatID,
		UserID:        row.UserID,
		Text:          row.Text,
		Status:        normalizeStatus(row.Status),
		ForwardedFrom: deref(row.ForwardedFrom),
		CreatedAtRaw:  row.CreatedAt,
		Sender:        model.User{ID: row.UserID, FullName: senderName},
	}
	if m.Sender.FullName == "" {
		m.Sender.FullName = model.UnknownSender
	}
	if url := deref(row.AttachmentURL); url != "" {
		m.Attachment = &model.Attachment{URL: url, Type: deref(row.AttachmentType)}
	}
	if t, err := ParseTimestamp(row.CreatedAt); err == nil {
		m.CreatedAt = t
		m.TimestampValid = true
	}
	return m
}

// Unknown statuses fall back to sent; merges never move status backwards,
// so the fallback cannot regress a message.
func normalizeStatus(s string) model.MessageStatus {
	st := model.MessageStatus(s)
	if !st.Valid() {
		return model.MessageStatusSent
	}
	return st
}
