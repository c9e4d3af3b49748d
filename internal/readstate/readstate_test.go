package readstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/mocks"
	"github.com/inbox/internal/model"
)

func msg(id, sender string, st model.MessageStatus) model.Message {
	return model.Message{ID: id, UserID: sender, Status: st}
}

func TestIsUnread(t *testing.T) {
	own := msg("1", "me", model.MessageStatusSent)
	theirs := msg("2", "bob", model.MessageStatusSent)
	delivered := msg("3", "bob", model.MessageStatusDelivered)
	read := msg("4", "bob", model.MessageStatusRead)

	assert.False(t, IsUnread(&own, "me"))
	assert.True(t, IsUnread(&theirs, "me"))
	assert.True(t, IsUnread(&delivered, "me"))
	assert.False(t, IsUnread(&read, "me"))
}

func TestCount(t *testing.T) {
	msgs := []model.Message{
		msg("1", "me", model.MessageStatusSent),
		msg("2", "bob", model.MessageStatusSent),
		msg("3", "bob", model.MessageStatusRead),
		msg("4", "ann", model.MessageStatusDelivered),
	}
	assert.Equal(t, 2, Count(msgs, "me"))
	assert.Zero(t, Count(nil, "me"))
}

func TestAdvance(t *testing.T) {
	got, ok := Advance(model.MessageStatusSent, model.MessageStatusRead)
	assert.True(t, ok)
	assert.Equal(t, model.MessageStatusRead, got)

	got, ok = Advance(model.MessageStatusRead, model.MessageStatusSent)
	assert.False(t, ok)
	assert.Equal(t, model.MessageStatusRead, got)

	got, ok = Advance(model.MessageStatusDelivered, model.MessageStatusDelivered)
	assert.False(t, ok)
	assert.Equal(t, model.MessageStatusDelivered, got)

	got, ok = Advance(model.MessageStatusSent, "garbage")
	assert.False(t, ok)
	assert.Equal(t, model.MessageStatusSent, got)
}

func TestTracker_MarkChatRead(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing unread issues no write", func(t *testing.T) {
		st := new(mocks.StoreMock)
		st.On("CountUnread", ctx, "c1", "me").Return(0, nil).Once()

		n, err := NewTracker(st).MarkChatRead(ctx, "c1", "me")

		require.NoError(t, err)
		assert.Zero(t, n)
		st.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
		st.AssertExpectations(t)
	})

	t.Run("writes when something qualifies", func(t *testing.T) {
		st := new(mocks.StoreMock)
		st.On("CountUnread", ctx, "c1", "me").Return(2, nil).Once()
		st.On("MarkRead", ctx, "c1", "me").Return(2, nil).Once()

		n, err := NewTracker(st).MarkChatRead(ctx, "c1", "me")

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		st.AssertExpectations(t)
	})

	t.Run("write failure", func(t *testing.T) {
		st := new(mocks.StoreMock)
		st.On("CountUnread", ctx, "c1", "me").Return(1, nil).Once()
		st.On("MarkRead", ctx, "c1", "me").Return(0, errors.New("boom")).Once()

		_, err := NewTracker(st).MarkChatRead(ctx, "c1", "me")

		assert.True(t, errs.IsWrite(err))
	})

	t.Run("no user", func(t *testing.T) {
		_, err := NewTracker(new(mocks.StoreMock)).MarkChatRead(ctx, "c1", "")
		assert.ErrorIs(t, err, errs.ErrAuthRequired)
	})
}
