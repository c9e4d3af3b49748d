package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/mocks"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/storage/memory"
	"github.com/inbox/internal/store"
)

type syncFeed struct{ *feed.Subscriber }

func (f syncFeed) Publish(ev feed.Event) { f.Dispatch(ev) }

type recListener struct {
	mu       sync.Mutex
	changes  int
	inserted []string
}

func (l *recListener) TimelineChanged(string) {
	l.mu.Lock()
	l.changes++
	l.mu.Unlock()
}

func (l *recListener) MessageInserted(_ string, m model.Message) {
	l.mu.Lock()
	l.inserted = append(l.inserted, m.ID)
	l.mu.Unlock()
}

func setup(t *testing.T) (*memory.Store, *feed.Subscriber) {
	t.Helper()
	sub := feed.NewSubscriber(feed.NewBroker(), feed.Config{})
	st := memory.NewStore(syncFeed{sub})
	st.PutUser(mapper.UserRow{ID: "a", FullName: "Ann"})
	st.PutUser(mapper.UserRow{ID: "b", FullName: "Bob"})
	ctx := context.Background()
	for _, id := range []string{"x", "y"} {
		require.NoError(t, st.CreateChat(ctx, mapper.ChatRow{ID: id, CreatedBy: "a", CreatedAt: "2024-01-01T00:00:00Z"}))
		require.NoError(t, st.AddParticipants(ctx, []mapper.ParticipantRow{{ChatID: id, UserID: "a"}, {ChatID: id, UserID: "b"}}))
	}
	return st, sub
}

func insert(t *testing.T, st *memory.Store, id, chatID, from, at string) {
	t.Helper()
	require.NoError(t, st.InsertMessage(context.Background(), mapper.MessageRow{
		ID: id, ChatID: chatID, UserID: from, Text: "text " + id, Status: "sent", CreatedAt: at,
	}))
}

func insertEvent(id, chatID, from, at string) feed.Event {
	row, _ := json.Marshal(mapper.MessageRow{ID: id, ChatID: chatID, UserID: from, Status: "sent", CreatedAt: at})
	return feed.Event{Table: "messages", Type: feed.Insert, New: row}
}

func statusEvent(id, chatID, from string, old, cur model.MessageStatus) feed.Event {
	o, _ := json.Marshal(mapper.MessageRow{ID: id, ChatID: chatID, UserID: from, Status: string(old)})
	n, _ := json.Marshal(mapper.MessageRow{ID: id, ChatID: chatID, UserID: from, Status: string(cur)})
	return feed.Event{Table: "messages", Type: feed.Update, Old: o, New: n}
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOpen_LoadsHistoryInOrder(t *testing.T) {
	st, sub := setup(t)
	insert(t, st, "m2", "x", "a", "2024-01-02T10:00:00Z")
	insert(t, st, "m1", "x", "b", "2024-01-02T09:00:00Z")
	insert(t, st, "other", "y", "a", "2024-01-02T09:30:00Z")
	l := &recListener{}
	tl := New(st, sub, l)

	require.NoError(t, tl.Open(context.Background(), "x"))

	assert.Equal(t, Ready, tl.State())
	assert.Equal(t, []string{"m1", "m2"}, ids(tl.Messages()))
	assert.Equal(t, "Bob", tl.Messages()[0].Sender.FullName)
	assert.Equal(t, 1, l.changes)
}

func TestOpen_FetchFailure(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("ListMessages", mock.Anything, "x").Return(nil, errors.New("timeout")).Once()
	sub := feed.NewSubscriber(feed.NewBroker(), feed.Config{})
	tl := New(st, sub, nil)

	err := tl.Open(context.Background(), "x")

	assert.True(t, errs.IsFetch(err))
	assert.Equal(t, Ready, tl.State())
	assert.Empty(t, tl.Messages())
}

func TestLiveInsert_DuplicateDeliveryKeepsOneCopy(t *testing.T) {
	st, sub := setup(t)
	l := &recListener{}
	tl := New(st, sub, l)
	require.NoError(t, tl.Open(context.Background(), "x"))

	ev := insertEvent("m1", "x", "a", "2024-01-02T09:00:00Z")
	sub.Dispatch(ev)
	sub.Dispatch(ev)

	assert.Equal(t, []string{"m1"}, ids(tl.Messages()))
	assert.Equal(t, []string{"m1"}, l.inserted)
	assert.Equal(t, "Ann", tl.Messages()[0].Sender.FullName)
}

func TestLiveInsert_UnknownSender(t *testing.T) {
	st, sub := setup(t)
	tl := New(st, sub, nil)
	require.NoError(t, tl.Open(context.Background(), "x"))

	sub.Dispatch(insertEvent("m1", "x", "ghost", "2024-01-02T09:00:00Z"))

	require.Len(t, tl.Messages(), 1)
	assert.Equal(t, model.UnknownSender, tl.Messages()[0].Sender.FullName)
}

func TestStatus_NoRegression(t *testing.T) {
	st, sub := setup(t)
	insert(t, st, "m1", "x", "a", "2024-01-02T09:00:00Z")
	tl := New(st, sub, nil)
	require.NoError(t, tl.Open(context.Background(), "x"))

	sub.Dispatch(statusEvent("m1", "x", "a", model.MessageStatusSent, model.MessageStatusRead))
	sub.Dispatch(statusEvent("m1", "x", "a", model.MessageStatusRead, model.MessageStatusSent))

	assert.Equal(t, model.MessageStatusRead, tl.Messages()[0].Status)
	assert.False(t, tl.MergeStatus("x", "m1", model.MessageStatusDelivered))
	assert.False(t, tl.MergeStatus("x", "missing", model.MessageStatusRead))
}

func TestOrdering_IndependentOfArrival(t *testing.T) {
	st, sub := setup(t)
	tl := New(st, sub, nil)
	require.NoError(t, tl.Open(context.Background(), "x"))

	base := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	var events []feed.Event
	for i := 0; i < 40; i++ {
		at := base.Add(time.Duration(i) * 17 * time.Minute).Format(time.RFC3339)
		events = append(events, insertEvent(string(rune('A'+i)), "x", "a", at))
	}
	events = append(events, insertEvent("tie-b", "x", "a", base.Format(time.RFC3339)))
	events = append(events, insertEvent("tie-a", "x", "a", base.Format(time.RFC3339)))
	rand.New(rand.NewSource(7)).Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	for _, ev := range events {
		sub.Dispatch(ev)
	}

	var flat []model.Message
	for _, g := range tl.GroupByDate(time.UTC) {
		flat = append(flat, g.Messages...)
	}
	require.Len(t, flat, 42)
	for i := 1; i < len(flat); i++ {
		assert.True(t, flat[i-1].Before(&flat[i]), "%s before %s", flat[i-1].ID, flat[i].ID)
	}
	assert.Equal(t, "A", flat[0].ID)
	assert.Equal(t, "tie-a", flat[1].ID)
}

func TestOpen_SwitchIgnoresPreviousChat(t *testing.T) {
	st, sub := setup(t)
	tl := New(st, sub, nil)
	ctx := context.Background()
	require.NoError(t, tl.Open(ctx, "x"))
	require.NoError(t, tl.Open(ctx, "y"))

	insert(t, st, "mx", "x", "a", "2024-01-02T09:00:00Z")
	insert(t, st, "my", "y", "a", "2024-01-02T09:00:00Z")

	assert.Equal(t, []string{"my"}, ids(tl.Messages()))

	changed, err := tl.Merge(ctx, insertEvent("late", "x", "a", "2024-01-02T10:00:00Z"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, tl.MergeInsert(model.Message{ID: "late", ChatID: "x"}))
}

func TestClose(t *testing.T) {
	st, sub := setup(t)
	tl := New(st, sub, nil)
	require.NoError(t, tl.Open(context.Background(), "x"))

	tl.Close()
	insert(t, st, "m1", "x", "a", "2024-01-02T09:00:00Z")

	assert.Equal(t, Idle, tl.State())
	assert.Empty(t, tl.ChatID())
	assert.Empty(t, tl.Messages())
}

func TestMarkRead_Idempotent(t *testing.T) {
	st, sub := setup(t)
	insert(t, st, "m1", "x", "a", "2024-01-02T09:00:00Z")
	insert(t, st, "m2", "x", "b", "2024-01-02T09:01:00Z")
	insert(t, st, "m3", "x", "a", "2024-01-02T09:02:00Z")
	l := &recListener{}
	tl := New(st, sub, l)
	ctx := context.Background()
	require.NoError(t, tl.Open(ctx, "x"))

	n, err := tl.MarkRead(ctx, "x", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	first := tl.Messages()
	l.mu.Lock()
	changesAfterFirst := l.changes
	l.mu.Unlock()

	n, err = tl.MarkRead(ctx, "x", "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, st.Writes("MarkRead"))
	assert.Equal(t, first, tl.Messages())
	l.mu.Lock()
	assert.Equal(t, changesAfterFirst, l.changes)
	l.mu.Unlock()
	for _, m := range tl.Messages() {
		if m.UserID != "b" {
			assert.Equal(t, model.MessageStatusRead, m.Status)
		}
	}
	unread, err := st.CountUnread(ctx, "x", "b")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMarkRead_WriteFailureRollsBack(t *testing.T) {
	st, sub := setup(t)
	insert(t, st, "m1", "x", "a", "2024-01-02T09:00:00Z")
	tl := New(st, sub, nil)
	ctx := context.Background()
	require.NoError(t, tl.Open(ctx, "x"))
	st.Fail("MarkRead", errors.New("read only"))

	_, err := tl.MarkRead(ctx, "x", "b")

	assert.True(t, errs.IsWrite(err))
	assert.Equal(t, model.MessageStatusSent, tl.Messages()[0].Status)
}

func TestMarkRead_FailureKeepsConfirmedRead(t *testing.T) {
	st := new(mocks.StoreMock)
	sub := feed.NewSubscriber(feed.NewBroker(), feed.Config{})
	history := []store.MessageRecord{
		{Row: mapper.MessageRow{ID: "m1", ChatID: "x", UserID: "a", Status: "sent", CreatedAt: "2024-01-02T09:00:00Z"}, SenderName: "Ann"},
		{Row: mapper.MessageRow{ID: "m2", ChatID: "x", UserID: "a", Status: "delivered", CreatedAt: "2024-01-02T09:01:00Z"}, SenderName: "Ann"},
	}
	st.On("ListMessages", mock.Anything, "x").Return(history, nil).Once()
	st.On("MarkRead", mock.Anything, "x", "b").
		Run(func(mock.Arguments) {
			sub.Dispatch(statusEvent("m1", "x", "a", model.MessageStatusSent, model.MessageStatusRead))
		}).
		Return(0, errors.New("read only")).Once()
	tl := New(st, sub, nil)
	ctx := context.Background()
	require.NoError(t, tl.Open(ctx, "x"))

	_, err := tl.MarkRead(ctx, "x", "b")

	assert.True(t, errs.IsWrite(err))
	msgs := tl.Messages()
	assert.Equal(t, model.MessageStatusRead, msgs[0].Status)
	assert.Equal(t, model.MessageStatusDelivered, msgs[1].Status)
	st.AssertExpectations(t)
}

func TestOpen_StatusDuringLoadIsKept(t *testing.T) {
	st := new(mocks.StoreMock)
	sub := feed.NewSubscriber(feed.NewBroker(), feed.Config{})
	snapshot := []store.MessageRecord{{Row: mapper.MessageRow{ID: "m1", ChatID: "x", UserID: "a", Status: "sent", CreatedAt: "2024-01-02T09:00:00Z"}, SenderName: "Ann"}}
	st.On("ListMessages", mock.Anything, "x").
		Run(func(mock.Arguments) {
			sub.Dispatch(statusEvent("m1", "x", "a", model.MessageStatusSent, model.MessageStatusRead))
			sub.Dispatch(statusEvent("gone", "x", "a", model.MessageStatusSent, model.MessageStatusRead))
		}).
		Return(snapshot, nil).Once()
	tl := New(st, sub, nil)

	require.NoError(t, tl.Open(context.Background(), "x"))

	require.Len(t, tl.Messages(), 1)
	assert.Equal(t, model.MessageStatusRead, tl.Messages()[0].Status)
	assert.Empty(t, tl.pending)
	st.AssertExpectations(t)
}

func TestMarkRead_NotOpenOrNoUser(t *testing.T) {
	st, sub := setup(t)
	insert(t, st, "m1", "x", "a", "2024-01-02T09:00:00Z")
	tl := New(st, sub, nil)
	ctx := context.Background()
	require.NoError(t, tl.Open(ctx, "y"))

	n, err := tl.MarkRead(ctx, "x", "b")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, st.Writes("MarkRead"))

	_, err = tl.MarkRead(ctx, "y", "")
	assert.ErrorIs(t, err, errs.ErrAuthRequired)
}

func TestResync_MergesMissedMessages(t *testing.T) {
	st := new(mocks.StoreMock)
	first := []store.MessageRecord{{Row: mapper.MessageRow{ID: "m1", ChatID: "x", UserID: "a", Status: "sent", CreatedAt: "2024-01-02T09:00:00Z"}, SenderName: "Ann"}}
	second := append(first, store.MessageRecord{Row: mapper.MessageRow{ID: "m2", ChatID: "x", UserID: "a", Status: "sent", CreatedAt: "2024-01-02T09:05:00Z"}, SenderName: "Ann"})
	second[0].Row.Status = "read"
	st.On("ListMessages", mock.Anything, "x").Return(first, nil).Once()
	st.On("ListMessages", mock.Anything, "x").Return(second, nil).Once()
	tl := New(st, feed.NewSubscriber(feed.NewBroker(), feed.Config{}), nil)
	ctx := context.Background()
	require.NoError(t, tl.Open(ctx, "x"))

	require.NoError(t, tl.Resync(ctx))

	msgs := tl.Messages()
	assert.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.Equal(t, model.MessageStatusRead, msgs[0].Status)
	st.AssertExpectations(t)
}
