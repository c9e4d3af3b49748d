package ws

import (
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/session"
)

type EventType string

// Commands sent by the UI.
const (
	EventSelectChat  EventType = "select_chat"
	EventSendMessage EventType = "send_message"
	EventMarkRead    EventType = "mark_read"
	EventCreateChat  EventType = "create_chat"
	EventAddTag      EventType = "add_tag"
	EventRefresh     EventType = "refresh"
)

// Pushes sent to the UI.
const (
	EventChats       EventType = session.KindChats
	EventTimeline    EventType = session.KindTimeline
	EventMessageSent EventType = session.KindMessageSent
	EventChatCreated EventType = session.KindChatCreated
	EventPresence    EventType = session.KindPresence
	EventFeedHealth  EventType = session.KindFeedHealth
	EventError       EventType = session.KindError
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id,omitempty"`

	// send_message
	Text           string `json:"text,omitempty"`
	ForwardedFrom  string `json:"forwarded_from,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`

	// create_chat
	Name           string      `json:"name,omitempty"`
	IsGroup        bool        `json:"is_group,omitempty"`
	ParticipantIDs []string    `json:"participant_ids,omitempty"`
	Tags           []model.Tag `json:"tags,omitempty"`

	// add_tag
	TagType string `json:"tag_type,omitempty"`
	Label   string `json:"label,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}
