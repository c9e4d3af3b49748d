// Package timeline holds the ordered message list of the chat that is open in
// a session and keeps it in step with the change feed.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/metrics"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/readstate"
	"github.com/inbox/internal/store"
)

type State int

const (
	Idle State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store is what the timeline reads and writes.
type Store interface {
	ListMessages(ctx context.Context, chatID string) ([]store.MessageRecord, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int, error)
	GetUser(ctx context.Context, id string) (mapper.UserRow, error)
}

// Feed is the part of *feed.Subscriber the timeline needs.
type Feed interface {
	Subscribe(scope feed.Scope, mask feed.EventMask, h feed.Handler) *feed.Subscription
}

// Listener observes timeline changes. It is called without any timeline lock
// held, from the goroutine that caused the change (often the feed pump).
type Listener interface {
	TimelineChanged(chatID string)
	// MessageInserted reports a message that arrived through the feed.
	MessageInserted(chatID string, msg model.Message)
}

type Timeline struct {
	store    Store
	feed     Feed
	listener Listener

	// openMu serializes Open and Close; it guards subs.
	openMu sync.Mutex
	subs   []*feed.Subscription

	mu      sync.Mutex
	state   State
	chatID  string
	epoch   uint64
	msgs    []model.Message
	ids     map[string]struct{}
	senders map[string]string
	// pending holds statuses of ids not loaded yet while Loading.
	pending map[string]model.MessageStatus
	// flipped holds ids a MarkRead in flight set to read locally.
	flipped map[string]struct{}
}

func New(st Store, f Feed, l Listener) *Timeline {
	return &Timeline{
		store:    st,
		feed:     f,
		listener: l,
		ids:      make(map[string]struct{}),
		senders:  make(map[string]string),
		pending:  make(map[string]model.MessageStatus),
		flipped:  make(map[string]struct{}),
	}
}

func (t *Timeline) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ChatID returns the open chat, or "" when idle.
func (t *Timeline) ChatID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

// Messages returns a copy of the ordered message list.
func (t *Timeline) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Message(nil), t.msgs...)
}

// Open makes chatID the open chat. The previous chat's subscriptions are
// cancelled first, so none of its events can reach the new state. Live
// subscriptions are set up before the history fetch; events that race the
// fetch are merged by id with the history. A failed fetch leaves the timeline
// Ready and empty and returns a *errs.FetchError.
func (t *Timeline) Open(ctx context.Context, chatID string) error {
	t.openMu.Lock()
	defer t.openMu.Unlock()
	t.cancelSubs()

	t.mu.Lock()
	t.epoch++
	epoch := t.epoch
	t.reset(chatID, Loading)
	t.mu.Unlock()

	scope := feed.Table("messages").Where("chat_id", chatID)
	t.subs = []*feed.Subscription{
		t.feed.Subscribe(scope, feed.MaskInsert, t.handle),
		t.feed.Subscribe(scope, feed.MaskUpdate, t.handle),
	}

	records, err := t.store.ListMessages(ctx, chatID)

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return nil
	}
	t.state = Ready
	if err == nil {
		t.mergeHistoryLocked(records)
	}
	clear(t.pending)
	t.mu.Unlock()

	if err != nil {
		logger.Errorf("timeline: load history of %s: %v", chatID, err)
		err = errs.Fetch("timeline.Open", err)
	}
	t.changed(chatID)
	return err
}

// Close cancels the live subscriptions and returns to Idle.
func (t *Timeline) Close() {
	t.openMu.Lock()
	defer t.openMu.Unlock()
	t.cancelSubs()
	t.mu.Lock()
	t.epoch++
	t.reset("", Idle)
	t.mu.Unlock()
}

// Resync re-fetches the open chat's history and merges it, recovering
// anything the feed missed while disconnected.
func (t *Timeline) Resync(ctx context.Context) error {
	t.mu.Lock()
	chatID, epoch, state := t.chatID, t.epoch, t.state
	t.mu.Unlock()
	if state != Ready || chatID == "" {
		return nil
	}
	records, err := t.store.ListMessages(ctx, chatID)
	if err != nil {
		return errs.Fetch("timeline.Resync", err)
	}
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return nil
	}
	t.mergeHistoryLocked(records)
	t.mu.Unlock()
	t.changed(chatID)
	return nil
}

func (t *Timeline) cancelSubs() {
	for _, s := range t.subs {
		s.Cancel()
	}
	t.subs = nil
}

func (t *Timeline) reset(chatID string, state State) {
	t.chatID = chatID
	t.state = state
	t.msgs = nil
	t.ids = make(map[string]struct{})
	clear(t.pending)
	clear(t.flipped)
}

func (t *Timeline) handle(ev feed.Event) {
	if _, err := t.Merge(context.Background(), ev); err != nil {
		metrics.FeedDropped.WithLabelValues("undecodable").Inc()
		logger.Errorf("timeline: drop %s %s event: %v", ev.Table, ev.Type, err)
	}
}

// Merge applies one messages feed event: an insert adds the message unless its
// id is already present, an update moves the status forward. Events for a chat
// other than the open one are ignored. It reports whether state changed.
func (t *Timeline) Merge(ctx context.Context, ev feed.Event) (bool, error) {
	if ev.Table != "messages" || ev.Type == feed.Delete {
		return false, nil
	}
	if ev.Type == feed.Update && !ev.Changed("status") {
		return false, nil
	}
	row, err := mapper.DecodeMessageRow(ev.Row())
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	open := t.state != Idle && row.ChatID == t.chatID
	_, have := t.ids[row.ID]
	name, known := t.senders[row.UserID]
	t.mu.Unlock()
	if !open {
		return false, nil
	}

	if ev.Type == feed.Update {
		ok := t.MergeStatus(row.ChatID, row.ID, model.MessageStatus(row.Status))
		if ok {
			t.changed(row.ChatID)
		}
		return ok, nil
	}

	if have {
		metrics.TimelineMerges.WithLabelValues("insert", "duplicate").Inc()
		return false, nil
	}
	if !known {
		name = t.senderName(ctx, row.UserID)
	}
	msg := mapper.ToMessage(row, name)
	if !t.MergeInsert(msg) {
		return false, nil
	}
	if t.listener != nil {
		t.listener.MessageInserted(msg.ChatID, msg)
	}
	t.changed(msg.ChatID)
	return true, nil
}

func (t *Timeline) senderName(ctx context.Context, userID string) string {
	u, err := t.store.GetUser(ctx, userID)
	if err != nil {
		logger.Errorf("timeline: sender %s: %v", userID, err)
		return ""
	}
	t.mu.Lock()
	t.senders[userID] = u.FullName
	t.mu.Unlock()
	return u.FullName
}

// MergeInsert adds msg in sorted position. A message whose id is already
// present, or that belongs to another chat, is ignored.
func (t *Timeline) MergeInsert(msg model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Idle || msg.ChatID != t.chatID {
		return false
	}
	if _, dup := t.ids[msg.ID]; dup {
		metrics.TimelineMerges.WithLabelValues("insert", "duplicate").Inc()
		return false
	}
	t.insertLocked(msg)
	metrics.TimelineMerges.WithLabelValues("insert", "applied").Inc()
	return true
}

// MergeStatus moves a message's status forward. Stale or equal statuses are
// ignored. An unknown id is kept while the history is loading and applied
// when it arrives; otherwise it is ignored.
func (t *Timeline) MergeStatus(chatID, id string, status model.MessageStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Idle || chatID != t.chatID {
		return false
	}
	if status == model.MessageStatusRead {
		delete(t.flipped, id)
	}
	if _, have := t.ids[id]; !have {
		if t.state == Loading {
			if next, ok := readstate.Advance(t.pending[id], status); ok {
				t.pending[id] = next
			}
		}
		return false
	}
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].ID != id {
			continue
		}
		next, ok := readstate.Advance(t.msgs[i].Status, status)
		if !ok {
			metrics.TimelineMerges.WithLabelValues("status", "stale").Inc()
			return false
		}
		t.msgs[i].Status = next
		metrics.TimelineMerges.WithLabelValues("status", "applied").Inc()
		return true
	}
	return false
}

func (t *Timeline) insertLocked(msg model.Message) {
	t.ids[msg.ID] = struct{}{}
	n := len(t.msgs)
	if n == 0 || t.msgs[n-1].Before(&msg) {
		t.msgs = append(t.msgs, msg)
		return
	}
	i := sort.Search(n, func(i int) bool { return msg.Before(&t.msgs[i]) })
	t.msgs = append(t.msgs, model.Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg
}

func (t *Timeline) mergeHistoryLocked(records []store.MessageRecord) {
	for _, rec := range records {
		if rec.SenderName != "" {
			t.senders[rec.Row.UserID] = rec.SenderName
		}
		msg := mapper.ToMessage(rec.Row, rec.SenderName)
		if st, ok := t.pending[msg.ID]; ok {
			msg.Status, _ = readstate.Advance(msg.Status, st)
			delete(t.pending, msg.ID)
		}
		if msg.Status == model.MessageStatusRead {
			delete(t.flipped, msg.ID)
		}
		if _, have := t.ids[msg.ID]; !have {
			t.insertLocked(msg)
			continue
		}
		for i := range t.msgs {
			if t.msgs[i].ID == msg.ID {
				t.msgs[i].Status, _ = readstate.Advance(t.msgs[i].Status, msg.Status)
				break
			}
		}
	}
}

// MarkRead marks every message of the open chat not sent by readerID as read,
// locally first and then in the store. When nothing qualifies nothing is
// written and no change is reported. If the write fails the local change is
// rolled back, except for messages the feed confirmed read meanwhile, and a
// *errs.WriteError returned. A chat that is not open is a no-op.
func (t *Timeline) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	if readerID == "" {
		return 0, errs.ErrAuthRequired
	}
	t.mu.Lock()
	if t.state == Idle || chatID != t.chatID {
		t.mu.Unlock()
		return 0, nil
	}
	prev := make(map[string]model.MessageStatus)
	for i := range t.msgs {
		if readstate.IsUnread(&t.msgs[i], readerID) {
			prev[t.msgs[i].ID] = t.msgs[i].Status
			t.msgs[i].Status = model.MessageStatusRead
			t.flipped[t.msgs[i].ID] = struct{}{}
		}
	}
	epoch := t.epoch
	t.mu.Unlock()

	if len(prev) == 0 {
		return 0, nil
	}
	t.changed(chatID)

	_, err := t.store.MarkRead(ctx, chatID, readerID)
	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		if err != nil {
			return 0, errs.Write("timeline.MarkRead", err)
		}
		return len(prev), nil
	}
	if err != nil {
		for i := range t.msgs {
			id := t.msgs[i].ID
			if _, still := t.flipped[id]; !still {
				continue
			}
			if st, ok := prev[id]; ok && t.msgs[i].Status == model.MessageStatusRead {
				t.msgs[i].Status = st
			}
		}
	}
	for id := range prev {
		delete(t.flipped, id)
	}
	t.mu.Unlock()
	if err != nil {
		metrics.WriteErrors.WithLabelValues("mark_read").Inc()
		t.changed(chatID)
		return 0, errs.Write("timeline.MarkRead", err)
	}
	return len(prev), nil
}

func (t *Timeline) changed(chatID string) {
	if t.listener != nil {
		t.listener.TimelineChanged(chatID)
	}
}
