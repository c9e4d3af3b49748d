// Package readstate holds the single unread rule shared by the chat directory
// (counting) and the timeline (marking read), so the two cannot disagree.
package readstate

import (
	"context"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/model"
)

// UnreadCondition is the SQL form of IsUnread. $1 is the viewer id; the
// message table must be aliased m.
const UnreadCondition = `m.user_id <> $1 AND m.status <> 'read'`

// IsUnread reports whether m counts as unread for userID.
func IsUnread(m *model.Message, userID string) bool {
	return m.UserID != userID && m.Status != model.MessageStatusRead
}

// Count returns how many of msgs are unread for userID.
func Count(msgs []model.Message, userID string) int {
	n := 0
	for i := range msgs {
		if IsUnread(&msgs[i], userID) {
			n++
		}
	}
	return n
}

// Advance returns the status a message should hold after observing next.
// Status only moves forward; a stale or unknown value leaves cur untouched.
func Advance(cur, next model.MessageStatus) (model.MessageStatus, bool) {
	if next.Rank() > cur.Rank() {
		return next, true
	}
	return cur, false
}

// Store is the persistence the tracker needs.
type Store interface {
	CountUnread(ctx context.Context, chatID, userID string) (int, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int, error)
}

// Tracker marks chats read for callers that have no open timeline.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// MarkChatRead marks every message in chatID not sent by readerID as read.
// Nothing is written when no message qualifies.
func (t *Tracker) MarkChatRead(ctx context.Context, chatID, readerID string) (int, error) {
	if readerID == "" {
		return 0, errs.ErrAuthRequired
	}
	n, err := t.store.CountUnread(ctx, chatID, readerID)
	if err != nil {
		return 0, errs.Fetch("readstate.CountUnread", err)
	}
	if n == 0 {
		return 0, nil
	}
	changed, err := t.store.MarkRead(ctx, chatID, readerID)
	if err != nil {
		return 0, errs.Write("readstate.MarkRead", err)
	}
	return changed, nil
}

