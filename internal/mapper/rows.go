// Package mapper translates persisted rows into the inbox domain model.
// Rows come from two places: repository scans and change-feed payloads
// (row_to_json of the same tables), so the JSON tags follow column names.
package mapper

type UserRow struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone"`
	AvatarURL *string `json:"avatar_url"`
}

// ChatRow is a chats row. Participants and Tags are filled by the loader, never by the feed.
type ChatRow struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	IsGroup   bool    `json:"is_group"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at"`

	Participants []UserRow `json:"-"`
	Tags         []TagRow  `json:"-"`
}

type ParticipantRow struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type MessageRow struct {
	ID             string  `json:"id"`
	ChatID         string  `json:"chat_id"`
	UserID         string  `json:"user_id"`
	Text           string  `json:"text"`
	Status         string  `json:"status"`
	ForwardedFrom  *string `json:"forwarded_from"`
	AttachmentURL  *string `json:"attachment_url"`
	AttachmentType *string `json:"attachment_type"`
	CreatedAt      string  `json:"created_at"`
}

type TagRow struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	Type   string `json:"type"`
	Label  string `json:"label"`
}

// LastMessage is the subset of the newest message a chat summary is built from.
type LastMessage struct {
	Text           string
	SenderName     string
	Status         string
	AttachmentType *string
	CreatedAt      string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
