package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/mapper"
)

type capture struct {
	mu     sync.Mutex
	events []feed.Event
}

func (c *capture) Publish(ev feed.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *capture) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Table+":"+string(ev.Type))
	}
	return out
}

func seeded(t *testing.T) (*Store, *capture) {
	t.Helper()
	pub := &capture{}
	s := NewStore(pub)
	s.PutUser(mapper.UserRow{ID: "a", FullName: "Ann"})
	s.PutUser(mapper.UserRow{ID: "b", FullName: "Bob"})
	ctx := context.Background()
	require.NoError(t, s.CreateChat(ctx, mapper.ChatRow{ID: "x", Name: "X", CreatedBy: "a", CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, s.AddParticipants(ctx, []mapper.ParticipantRow{
		{ChatID: "x", UserID: "a", Role: "admin"},
		{ChatID: "x", UserID: "b", Role: "member"},
	}))
	return s, pub
}

func TestStore_DirectorySummaries(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()

	entries, err := s.LoadDirectory(ctx, "b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Last)
	assert.Zero(t, entries[0].Unread)

	require.NoError(t, s.InsertMessage(ctx, mapper.MessageRow{ID: "m2", ChatID: "x", UserID: "a", Text: "later", CreatedAt: "2024-01-02T10:00:00Z"}))
	require.NoError(t, s.InsertMessage(ctx, mapper.MessageRow{ID: "m1", ChatID: "x", UserID: "a", Text: "hello", CreatedAt: "2024-01-02T09:00:00Z"}))

	entries, err = s.LoadDirectory(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, entries[0].Last)
	assert.Equal(t, "later", entries[0].Last.Text)
	assert.Equal(t, "Ann", entries[0].Last.SenderName)
	assert.Equal(t, 2, entries[0].Unread)
	assert.Len(t, entries[0].Chat.Participants, 2)

	entries, err = s.LoadDirectory(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, entries[0].Unread)

	entries, err = s.LoadDirectory(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_MarkReadEmitsUpdates(t *testing.T) {
	s, pub := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, mapper.MessageRow{ID: "m1", ChatID: "x", UserID: "a", Text: "hi", CreatedAt: "2024-01-02T09:00:00Z"}))
	require.NoError(t, s.InsertMessage(ctx, mapper.MessageRow{ID: "m2", ChatID: "x", UserID: "b", Text: "yo", CreatedAt: "2024-01-02T09:01:00Z"}))

	n, err := s.MarkRead(ctx, "x", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.MarkRead(ctx, "x", "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	kinds := pub.kinds()
	assert.Equal(t, "messages:UPDATE", kinds[len(kinds)-1])
	unread, err := s.CountUnread(ctx, "x", "b")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestStore_UniqueParticipantsAndTags(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.AddParticipants(ctx, []mapper.ParticipantRow{{ChatID: "x", UserID: "a", Role: "member"}}))
	ids, err := s.ParticipantIDs(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	tag := mapper.TagRow{ChatID: "x", Type: "demo", Label: "Demo"}
	require.NoError(t, s.AddTags(ctx, []mapper.TagRow{tag, tag}))
	row, err := s.GetChat(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, row.Tags, 1)
}

func TestStore_DeleteChatCascades(t *testing.T) {
	s, pub := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteChat(ctx, "x"))

	_, err := s.GetChat(ctx, "x")
	assert.Error(t, err)
	ids, err := s.ParticipantIDs(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Contains(t, pub.kinds(), "chats:DELETE")
}

func TestStore_FailInjection(t *testing.T) {
	s, _ := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	s.Fail("AddTags", boom)
	err := s.AddTags(ctx, []mapper.TagRow{{ChatID: "x", Type: "t", Label: "l"}})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, s.Writes("AddTags"))

	s.Fail("AddTags", nil)
	require.NoError(t, s.AddTags(ctx, []mapper.TagRow{{ChatID: "x", Type: "t", Label: "l"}}))
	assert.Equal(t, 1, s.Writes("AddTags"))
}

func TestStore_RejectsUnknownParticipant(t *testing.T) {
	s, _ := seeded(t)
	err := s.AddParticipants(context.Background(), []mapper.ParticipantRow{{ChatID: "x", UserID: "ghost"}})
	assert.Error(t, err)
}
