package model

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// NoMessagesYet is the LastMessage text of an empty chat.
const NoMessagesYet = "No messages yet"

// Tag labels a chat. The (Type, Label) pair is unique per chat.
type Tag struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// Chat is a chat summary for one viewer. LastMessage*, UnreadCount are derived
// from the message set on every load and are never persisted.
type Chat struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	IsGroup      bool   `json:"is_group"`
	CreatedBy    string `json:"created_by"`
	Phone        string `json:"phone,omitempty"`
	Participants []User `json:"participants"`
	Tags         []Tag  `json:"tags"`

	LastMessage       string        `json:"last_message"`
	LastMessageTime   time.Time     `json:"last_message_time"`
	LastMessageStatus MessageStatus `json:"last_message_status"`
	LastMessageType   string        `json:"last_message_type"`
	UnreadCount       int           `json:"unread_count"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Participant is a membership row: who is in a chat and with which role.
type Participant struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}
