// Package directory keeps the chat summaries of one signed-in user and reloads
// them whenever the change feed reports something that could affect them.
package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/metrics"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/store"
)

type Sort string

const (
	// SortActivity orders chats by last activity, newest first.
	SortActivity Sort = "activity"
	// SortNone keeps the store's order.
	SortNone Sort = "none"
)

const reloadTimeout = 10 * time.Second

// Feed is the part of *feed.Subscriber the directory needs.
type Feed interface {
	Subscribe(scope feed.Scope, mask feed.EventMask, h feed.Handler) *feed.Subscription
}

type Option func(*Directory)

func WithSort(s Sort) Option {
	return func(d *Directory) { d.sort = s }
}

// WithDebounce coalesces the reloads of a burst of events (e.g. a mark-read
// updating many messages) into one, run off the feed pump after delay.
func WithDebounce(delay time.Duration) Option {
	return func(d *Directory) { d.debounce = delay }
}

type Directory struct {
	store    store.Directory
	sort     Sort
	debounce time.Duration

	mu      sync.Mutex
	userID  string
	chats   []model.Chat
	started uint64
	applied uint64
	pending *time.Timer
}

func New(st store.Directory, opts ...Option) *Directory {
	d := &Directory{store: st, sort: SortActivity}
	for _, o := range opts {
		o(d)
	}
	return d
}

// LoadChats fetches a fresh snapshot for userID and makes it current.
// With no user the result is empty. On a fetch error the result is empty, the
// previous snapshot stays current and the error is a *errs.FetchError.
// When loads overlap, the one started last wins.
func (d *Directory) LoadChats(ctx context.Context, userID string) ([]model.Chat, error) {
	if userID == "" {
		return []model.Chat{}, nil
	}
	d.mu.Lock()
	d.started++
	gen := d.started
	d.mu.Unlock()

	start := time.Now()
	entries, err := d.store.LoadDirectory(ctx, userID)
	metrics.DirectoryReloads.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Errorf("directory: load chats for %s: %v", userID, err)
		return []model.Chat{}, errs.Fetch("directory.LoadChats", err)
	}

	chats := make([]model.Chat, 0, len(entries))
	for _, e := range entries {
		chats = append(chats, mapper.ToChat(e.Chat, e.Last, e.Unread))
	}
	d.order(chats)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen > d.applied {
		d.applied = gen
		d.userID = userID
		d.chats = chats
	} else {
		logger.Debugf("directory: discard stale load %d (applied %d)", gen, d.applied)
	}
	return append([]model.Chat(nil), d.chats...), nil
}

func (d *Directory) order(chats []model.Chat) {
	if d.sort != SortActivity {
		return
	}
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i].LastMessageTime, chats[j].LastMessageTime
		if !a.Equal(b) {
			return a.After(b)
		}
		return chats[i].ID < chats[j].ID
	})
}

// Chats returns a copy of the current snapshot.
func (d *Directory) Chats() []model.Chat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Chat(nil), d.chats...)
}

func (d *Directory) Chat(chatID string) (model.Chat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chats {
		if c.ID == chatID {
			return c, true
		}
	}
	return model.Chat{}, false
}

func (d *Directory) Contains(chatID string) bool {
	_, ok := d.Chat(chatID)
	return ok
}

// MarkChatRead zeroes the local unread count after a successful mark-read.
// The next reload reconciles it with the store.
func (d *Directory) MarkChatRead(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.chats {
		if d.chats[i].ID == chatID {
			d.chats[i].UnreadCount = 0
			return
		}
	}
}

// Subscribe reloads the directory on every feed event that concerns userID's
// chats and passes each new snapshot to onChange. The returned func cancels
// all underlying subscriptions.
func (d *Directory) Subscribe(f Feed, userID string, onChange func([]model.Chat)) (cancel func()) {
	handle := func(ev feed.Event) {
		if !d.concerns(ev, userID) {
			return
		}
		d.schedule(userID, onChange)
	}
	subs := []*feed.Subscription{
		f.Subscribe(feed.Table("chats"), feed.MaskAll, handle),
		f.Subscribe(feed.Table("chat_participants"), feed.MaskAll, handle),
		f.Subscribe(feed.Table("chat_tags"), feed.MaskAll, handle),
		f.Subscribe(feed.Table("messages"), feed.MaskInsert|feed.MaskUpdate, handle),
	}
	return func() {
		for _, s := range subs {
			s.Cancel()
		}
		d.mu.Lock()
		if d.pending != nil {
			d.pending.Stop()
			d.pending = nil
		}
		d.mu.Unlock()
	}
}

func (d *Directory) schedule(userID string, onChange func([]model.Chat)) {
	if d.debounce <= 0 {
		d.Reload(userID, onChange)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		return
	}
	d.pending = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
		d.Reload(userID, onChange)
	})
}

// Reload runs LoadChats and reports a successful snapshot to onChange.
func (d *Directory) Reload(userID string, onChange func([]model.Chat)) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	chats, err := d.LoadChats(ctx, userID)
	if err != nil {
		return
	}
	if onChange != nil {
		onChange(chats)
	}
}

// concerns reports whether ev can change userID's directory: it touches a chat
// already listed, or adds userID to a chat.
func (d *Directory) concerns(ev feed.Event, userID string) bool {
	if ev.Table == "chat_participants" {
		row, err := mapper.DecodeParticipantRow(ev.Row())
		if err == nil && row.UserID == userID {
			return true
		}
	}
	chatID, err := mapper.ChatRef(ev.Table, ev.Row())
	if err != nil {
		metrics.FeedDropped.WithLabelValues("undecodable").Inc()
		logger.Errorf("directory: drop %s %s event: %v", ev.Table, ev.Type, err)
		return false
	}
	return d.Contains(chatID)
}
