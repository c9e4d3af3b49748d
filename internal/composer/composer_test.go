package composer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/events"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/mocks"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/storage/memory"
)

var fixed = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Composer, *memory.Store, *mocks.PublisherMock) {
	t.Helper()
	st := memory.NewStore(nil)
	st.PutUser(mapper.UserRow{ID: "a", FullName: "Ann", Email: "ann@example.com"})
	st.PutUser(mapper.UserRow{ID: "b", FullName: "Bob"})
	require.NoError(t, st.CreateChat(context.Background(), mapper.ChatRow{ID: "x", CreatedBy: "a", CreatedAt: "2024-01-01T00:00:00Z"}))
	pub := new(mocks.PublisherMock)
	c := New(st, pub, WithClock(func() time.Time { return fixed }))
	return c, st, pub
}

func TestSendMessage(t *testing.T) {
	c, st, pub := setup(t)
	pub.On("Publish", mock.Anything, events.MessageSent, mock.Anything).Return(nil).Once()

	msg, err := c.SendMessage(context.Background(), "x", "hi", "a")

	require.NoError(t, err)
	_, parseErr := uuid.Parse(msg.ID)
	assert.NoError(t, parseErr)
	assert.Equal(t, model.MessageStatusSent, msg.Status)
	assert.True(t, msg.CreatedAt.Equal(fixed))
	assert.Equal(t, "Ann", msg.Sender.FullName)
	assert.Equal(t, "ann@example.com", msg.Sender.Email)
	assert.Nil(t, msg.Attachment)

	recs, err := st.ListMessages(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, msg.ID, recs[0].Row.ID)
	pub.AssertExpectations(t)
}

func TestSendMessage_Options(t *testing.T) {
	c, _, pub := setup(t)
	pub.On("Publish", mock.Anything, events.MessageSent, mock.Anything).Return(nil)

	msg, err := c.SendMessage(context.Background(), "x", "", "a",
		WithAttachment("https://cdn/x.png", "image"), WithForwardedFrom("Carol"))

	require.NoError(t, err)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "image", msg.Kind())
	assert.Equal(t, "Carol", msg.ForwardedFrom)
}

func TestSendMessage_Empty(t *testing.T) {
	c, st, pub := setup(t)

	_, err := c.SendMessage(context.Background(), "x", "   ", "a")

	assert.ErrorIs(t, err, errs.ErrEmptyMessage)
	assert.Zero(t, st.Writes("InsertMessage"))
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_NoUser(t *testing.T) {
	c, _, _ := setup(t)

	_, err := c.SendMessage(context.Background(), "x", "hi", "")

	assert.ErrorIs(t, err, errs.ErrAuthRequired)
}

func TestSendMessage_WriteFailure(t *testing.T) {
	c, st, pub := setup(t)
	cause := errors.New("connection reset")
	st.Fail("InsertMessage", cause)

	_, err := c.SendMessage(context.Background(), "x", "hi", "a")

	var we *errs.WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, cause)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_UnknownSenderAndPublishFailure(t *testing.T) {
	c, st, pub := setup(t)
	st.Fail("GetUser", errors.New("timeout"))
	pub.On("Publish", mock.Anything, events.MessageSent, mock.Anything).Return(errors.New("broker down"))

	msg, err := c.SendMessage(context.Background(), "x", "hi", "a")

	require.NoError(t, err)
	assert.Equal(t, model.UnknownSender, msg.Sender.FullName)
}

func TestCreateChat(t *testing.T) {
	c, st, pub := setup(t)
	pub.On("Publish", mock.Anything, events.ChatCreated, mock.Anything).Return(nil).Once()
	tags := []model.Tag{{Type: "team", Label: "sales"}, {Type: "team", Label: "sales"}, {Type: "prio", Label: "high"}}

	chat, err := c.CreateChat(context.Background(), "a", "Deals", true, []string{"b", "a", "b"}, tags)

	require.NoError(t, err)
	assert.Equal(t, "Deals", chat.Name)
	assert.True(t, chat.IsGroup)
	assert.Equal(t, model.NoMessagesYet, chat.LastMessage)
	assert.True(t, chat.LastMessageTime.Equal(fixed))
	require.Len(t, chat.Participants, 2)
	assert.Equal(t, "a", chat.Participants[0].ID)
	assert.Equal(t, "b", chat.Participants[1].ID)
	assert.ElementsMatch(t, []model.Tag{{Type: "team", Label: "sales"}, {Type: "prio", Label: "high"}}, chat.Tags)

	ids, err := st.ParticipantIDs(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	pub.AssertExpectations(t)
}

func TestCreateChat_ParticipantFailureDeletesChat(t *testing.T) {
	c, st, pub := setup(t)

	_, err := c.CreateChat(context.Background(), "a", "Deals", true, []string{"ghost"}, nil)

	assert.True(t, errs.IsWrite(err))
	assert.Equal(t, 1, st.Writes("CreateChat"))
	assert.Equal(t, 1, st.Writes("DeleteChat"))
	dir, err := st.LoadDirectory(context.Background(), "a")
	require.NoError(t, err)
	for _, e := range dir {
		assert.Equal(t, "x", e.Chat.ID)
	}
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateChat_TagFailureStillSucceeds(t *testing.T) {
	c, st, pub := setup(t)
	st.Fail("AddTags", errors.New("constraint"))
	pub.On("Publish", mock.Anything, events.ChatCreated, mock.Anything).Return(nil)

	chat, err := c.CreateChat(context.Background(), "a", "Deals", false, []string{"b"}, []model.Tag{{Type: "t", Label: "l"}})

	require.NoError(t, err)
	assert.Empty(t, chat.Tags)
	assert.Len(t, chat.Participants, 2)
}

func TestCreateChat_RereadFailureBuildsLocally(t *testing.T) {
	c, st, pub := setup(t)
	st.Fail("GetChat", errors.New("replica lag"))
	pub.On("Publish", mock.Anything, events.ChatCreated, mock.Anything).Return(nil)

	chat, err := c.CreateChat(context.Background(), "a", "", false, []string{"b"}, []model.Tag{{Type: "t", Label: "l"}})

	require.NoError(t, err)
	require.Len(t, chat.Participants, 2)
	assert.Equal(t, "Bob", chat.Participants[1].FullName)
	assert.Equal(t, []model.Tag{{Type: "t", Label: "l"}}, chat.Tags)
}

func TestAddTag(t *testing.T) {
	c, st, pub := setup(t)
	pub.On("Publish", mock.Anything, events.ChatTagged, mock.Anything).Return(nil).Twice()
	ctx := context.Background()

	_, err := c.AddTag(ctx, "x", "team", "sales")
	require.NoError(t, err)
	_, err = c.AddTag(ctx, "x", "team", "sales")
	require.NoError(t, err)

	row, err := st.GetChat(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, row.Tags, 1)

	st.Fail("AddTags", errors.New("down"))
	_, err = c.AddTag(ctx, "x", "team", "ops")
	assert.True(t, errs.IsWrite(err))
	pub.AssertExpectations(t)
}
