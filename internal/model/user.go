package model

// User is a chat participant as seen by the inbox. Phone and AvatarURL are empty when absent.
type User struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName returns the name shown next to messages.
func (u User) DisplayName() string {
	if u.FullName == "" {
		return UnknownSender
	}
	return u.FullName
}

// UnknownSender is shown when the sender of a message cannot be resolved.
const UnknownSender = "Unknown"
