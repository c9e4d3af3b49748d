package mapper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestToChat_NoMessages(t *testing.T) {
	row := ChatRow{ID: "c1", Name: "Team", CreatedAt: "2024-03-01T10:00:00Z"}

	c := ToChat(row, nil, 0)

	assert.Equal(t, model.NoMessagesYet, c.LastMessage)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, model.MessageStatusSent, c.LastMessageStatus)
	assert.Equal(t, "text", c.LastMessageType)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), c.LastMessageTime.UTC())
	assert.Empty(t, c.Phone)
	assert.NotNil(t, c.Participants)
	assert.NotNil(t, c.Tags)
}

func TestToChat_WithLastMessage(t *testing.T) {
	row := ChatRow{
		ID:        "c1",
		CreatedAt: "2024-03-01T10:00:00Z",
		Participants: []UserRow{
			{ID: "u1", FullName: "Ann", Phone: strPtr("+100")},
			{ID: "u2", FullName: "Bob"},
		},
		Tags: []TagRow{{Type: "demo", Label: "Demo"}},
	}
	last := &LastMessage{Text: "hi", SenderName: "Bob", Status: "read", AttachmentType: strPtr("image"), CreatedAt: "2024-03-02T08:30:00Z"}

	c := ToChat(row, last, 3)

	assert.Equal(t, "Bob: hi", c.LastMessage)
	assert.Equal(t, model.MessageStatusRead, c.LastMessageStatus)
	assert.Equal(t, "image", c.LastMessageType)
	assert.Equal(t, 3, c.UnreadCount)
	assert.Equal(t, "+100", c.Phone)
	assert.Equal(t, []model.Tag{{Type: "demo", Label: "Demo"}}, c.Tags)
	assert.Equal(t, 2, c.LastMessageTime.Day())
}

func TestToChat_UnknownSender(t *testing.T) {
	c := ToChat(ChatRow{ID: "c1"}, &LastMessage{Text: "yo"}, 0)
	assert.Equal(t, "Unknown: yo", c.LastMessage)
}

func TestToMessage_MalformedTimestampKept(t *testing.T) {
	m := ToMessage(MessageRow{ID: "m1", ChatID: "c1", UserID: "u1", Text: "x", Status: "sent", CreatedAt: "yesterday-ish"}, "")

	assert.False(t, m.TimestampValid)
	assert.True(t, m.CreatedAt.IsZero())
	assert.Equal(t, "yesterday-ish", m.CreatedAtRaw)
	assert.Equal(t, model.UnknownSender, m.Sender.FullName)
}

func TestToMessage_OptionalFields(t *testing.T) {
	m := ToMessage(MessageRow{
		ID: "m1", ChatID: "c1", UserID: "u1", Status: "bogus",
		ForwardedFrom: strPtr("Carol"), AttachmentURL: strPtr("https://x/y.png"), AttachmentType: strPtr("image"),
		CreatedAt: "2024-03-01 10:00:00.123456+00",
	}, "Ann")

	assert.True(t, m.TimestampValid)
	assert.Equal(t, model.MessageStatusSent, m.Status)
	assert.Equal(t, "Carol", m.ForwardedFrom)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, "image", m.Kind())
	assert.Equal(t, "Ann", m.Sender.FullName)
}

func TestParseTimestamp(t *testing.T) {
	for _, raw := range []string{
		"2024-03-01T10:00:00Z",
		"2024-03-01T10:00:00.123456+03:00",
		"2024-03-01T10:00:00.123456",
		"2024-03-01 10:00:00+00",
		"2024-03-01 10:00:00.5+03:00",
	} {
		_, err := ParseTimestamp(raw)
		assert.NoError(t, err, raw)
	}

	_, err := ParseTimestamp("not a time")
	assert.ErrorIs(t, err, errs.ErrMalformedTimestamp)
}

func TestDecodeMessageRow(t *testing.T) {
	row, err := DecodeMessageRow(json.RawMessage(`{"id":"m1","chat_id":"c1","user_id":"u1","text":"hi","status":"weird","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, "sent", row.Status)
	assert.Nil(t, row.AttachmentURL)

	_, err = DecodeMessageRow(json.RawMessage(`{"id":"m1","text":"hi"}`))
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = DecodeMessageRow(json.RawMessage(`null`))
	assert.Error(t, err)

	_, err = DecodeMessageRow(json.RawMessage(`{"id":`))
	assert.Error(t, err)
}

func TestChatRef(t *testing.T) {
	id, err := ChatRef("chats", json.RawMessage(`{"id":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	id, err = ChatRef("chat_tags", json.RawMessage(`{"id":"t1","chat_id":"c2"}`))
	require.NoError(t, err)
	assert.Equal(t, "c2", id)

	_, err = ChatRef("messages", json.RawMessage(`{"id":"m1"}`))
	assert.ErrorIs(t, err, ErrMissingField)
}
