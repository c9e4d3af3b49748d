package model

import "time"

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses for forward-progress checks: sent < delivered < read.
// Unknown values rank below sent.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool { return s.Rank() > 0 }

// Attachment is a file reference carried by a message.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type Message struct {
	ID            string        `json:"id"`
	ChatID        string        `json:"chat_id"`
	UserID        string        `json:"user_id"`
	Text          string        `json:"text"`
	Status        MessageStatus `json:"status"`
	ForwardedFrom string        `json:"forwarded_from,omitempty"`
	Attachment    *Attachment   `json:"attachment,omitempty"`
	Sender        User          `json:"sender"`

	// CreatedAt is zero when the stored timestamp could not be parsed;
	// CreatedAtRaw always holds the original value for display.
	CreatedAt      time.Time `json:"created_at"`
	CreatedAtRaw   string    `json:"created_at_raw,omitempty"`
	TimestampValid bool      `json:"-"`
}

// Before reports whether m sorts before o in a timeline: by CreatedAt, then ID.
// Messages with a malformed timestamp sort after all valid ones, by raw value.
func (m *Message) Before(o *Message) bool {
	switch {
	case m.TimestampValid && o.TimestampValid:
		if !m.CreatedAt.Equal(o.CreatedAt) {
			return m.CreatedAt.Before(o.CreatedAt)
		}
	case m.TimestampValid != o.TimestampValid:
		return m.TimestampValid
	default:
		if m.CreatedAtRaw != o.CreatedAtRaw {
			return m.CreatedAtRaw < o.CreatedAtRaw
		}
	}
	return m.ID < o.ID
}

// Kind returns the attachment type, or "text" for plain messages.
func (m *Message) Kind() string {
	if m.Attachment != nil && m.Attachment.Type != "" {
		return m.Attachment.Type
	}
	return "text"
}
