// Package store declares the persistence the sync core consumes. The pgx
// repositories and the in-memory store both implement it.
package store

import (
	"context"

	"github.com/inbox/internal/mapper"
)

// DirectoryEntry is one chat of a directory snapshot with its derived inputs.
type DirectoryEntry struct {
	Chat   mapper.ChatRow
	Last   *mapper.LastMessage
	Unread int
}

// MessageRecord is a message row joined with its sender's display name.
type MessageRecord struct {
	Row        mapper.MessageRow
	SenderName string
}

type Users interface {
	GetUser(ctx context.Context, id string) (mapper.UserRow, error)
	GetUsers(ctx context.Context, ids []string) ([]mapper.UserRow, error)
}

type Directory interface {
	// LoadDirectory returns every chat userID participates in, computed
	// from one consistent view of the store.
	LoadDirectory(ctx context.Context, userID string) ([]DirectoryEntry, error)
}

type Chats interface {
	CreateChat(ctx context.Context, row mapper.ChatRow) error
	DeleteChat(ctx context.Context, chatID string) error
	AddParticipants(ctx context.Context, rows []mapper.ParticipantRow) error
	// AddTags ignores tags already present on the chat.
	AddTags(ctx context.Context, rows []mapper.TagRow) error
	// GetChat returns the chat with participants and tags filled in.
	GetChat(ctx context.Context, chatID string) (mapper.ChatRow, error)
	ParticipantIDs(ctx context.Context, chatID string) ([]string, error)
}

type Messages interface {
	// ListMessages returns the chat history ordered by created_at, then id.
	ListMessages(ctx context.Context, chatID string) ([]MessageRecord, error)
	InsertMessage(ctx context.Context, row mapper.MessageRow) error
	// MarkRead sets status read on every unread message of chatID not sent by
	// readerID and returns how many rows changed.
	MarkRead(ctx context.Context, chatID, readerID string) (int, error)
	CountUnread(ctx context.Context, chatID, userID string) (int, error)
}

type Store interface {
	Users
	Directory
	Chats
	Messages
}
