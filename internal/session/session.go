// Package session wires the realtime components for one signed-in UI
// connection: its feed subscriber, chat directory, open timeline and presence.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inbox/internal/composer"
	"github.com/inbox/internal/directory"
	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/metrics"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/presence"
	"github.com/inbox/internal/readstate"
	"github.com/inbox/internal/storage"
	"github.com/inbox/internal/store"
	"github.com/inbox/internal/timeline"
)

// Push kinds sent to the UI.
const (
	KindChats       = "chats"
	KindTimeline    = "timeline"
	KindMessageSent = "message_sent"
	KindChatCreated = "chat_created"
	KindPresence    = "presence"
	KindFeedHealth  = "feed_health"
	KindError       = "error"
)

// Sink receives every push addressed to the UI. Push must not block for long;
// it is called from the feed pump.
type Sink interface {
	Push(kind string, payload any)
}

type SinkFunc func(kind string, payload any)

func (f SinkFunc) Push(kind string, payload any) { f(kind, payload) }

type TimelineView struct {
	ChatID string               `json:"chat_id"`
	State  string               `json:"state"`
	Groups []timeline.DateGroup `json:"groups"`
}

type FeedHealth struct {
	Healthy bool `json:"healthy"`
}

type PresenceView struct {
	Online []string `json:"online"`
}

type ErrorView struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

type Config struct {
	// ReadyTimeout bounds how long Start waits for the first feed connection
	// before loading anyway.
	ReadyTimeout time.Duration
	Location     *time.Location
	Directory    []directory.Option
}

type Deps struct {
	Store    store.Store
	Feed     *feed.Subscriber
	Presence storage.PresenceStore
	Composer *composer.Composer
}

type Session struct {
	id       string
	userID   string
	cfg      Config
	store    store.Store
	feed     *feed.Subscriber
	composer *composer.Composer
	sink     Sink

	dir      *directory.Directory
	tl       *timeline.Timeline
	tracker  *readstate.Tracker
	presence *presence.Registry

	mu       sync.Mutex
	started  bool
	closed   bool
	cancels  []func()
	stopFeed context.CancelFunc
	feedDone chan struct{}
	bg       sync.WaitGroup
}

// New builds a session for userID. Nothing runs until Start.
func New(userID string, deps Deps, sink Sink, cfg Config) *Session {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = SinkFunc(func(string, any) {})
	}
	s := &Session{
		id:       uuid.NewString(),
		userID:   userID,
		cfg:      cfg,
		store:    deps.Store,
		feed:     deps.Feed,
		composer: deps.Composer,
		sink:     sink,
		dir:      directory.New(deps.Store, cfg.Directory...),
		tracker:  readstate.NewTracker(deps.Store),
		presence: presence.NewRegistry(deps.Presence),
		feedDone: make(chan struct{}),
	}
	s.tl = timeline.New(deps.Store, deps.Feed, s)
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Start joins presence, connects the feed, loads the directory and begins
// pushing updates. Without a user it returns errs.ErrAuthRequired.
func (s *Session) Start(ctx context.Context) error {
	if s.userID == "" {
		return errs.ErrAuthRequired
	}
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	s.started = true
	runCtx, stop := context.WithCancel(context.Background())
	s.stopFeed = stop
	s.mu.Unlock()

	if err := s.presence.Start(ctx, s.id, s.userID); err != nil {
		logger.Errorf("session %s: presence: %v", s.id, err)
	}
	metrics.Sessions.Inc()

	s.addCancel(s.feed.OnHealth(func(ok bool) { s.sink.Push(KindFeedHealth, FeedHealth{Healthy: ok}) }))
	s.addCancel(s.feed.OnResync(s.resync))
	s.addCancel(s.dir.Subscribe(s.feed, s.userID, s.pushChats))

	go func() {
		defer close(s.feedDone)
		if err := s.feed.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("session %s: feed: %v", s.id, err)
		}
	}()

	wait := time.NewTimer(s.cfg.ReadyTimeout)
	select {
	case <-s.feed.Ready():
	case <-wait.C:
		logger.Infof("session %s: feed not ready after %s, loading anyway", s.id, s.cfg.ReadyTimeout)
	case <-ctx.Done():
	}
	wait.Stop()

	chats, err := s.dir.LoadChats(ctx, s.userID)
	if err != nil {
		s.pushError("load_chats", err)
	}
	s.pushChats(chats)
	s.pushPresence(ctx)
	return nil
}

// Chats returns the current directory snapshot.
func (s *Session) Chats() []model.Chat { return s.dir.Chats() }

// Timeline returns the open chat's grouped messages.
func (s *Session) Timeline() TimelineView {
	return TimelineView{
		ChatID: s.tl.ChatID(),
		State:  s.tl.State().String(),
		Groups: s.tl.GroupByDate(s.cfg.Location),
	}
}

// SelectChat opens chatID and marks its messages read.
func (s *Session) SelectChat(ctx context.Context, chatID string) error {
	if err := s.member(ctx, chatID); err != nil {
		s.pushError("open_chat", err)
		return err
	}
	if err := s.tl.Open(ctx, chatID); err != nil {
		s.pushError("open_chat", err)
		return err
	}
	return s.MarkRead(ctx, chatID)
}

// MarkRead marks chatID read for the session user. The open timeline updates
// optimistically; otherwise the tracker writes directly.
func (s *Session) MarkRead(ctx context.Context, chatID string) error {
	if err := s.member(ctx, chatID); err != nil {
		s.pushError("mark_read", err)
		return err
	}
	var err error
	if s.tl.ChatID() == chatID {
		_, err = s.tl.MarkRead(ctx, chatID, s.userID)
	} else {
		_, err = s.tracker.MarkChatRead(ctx, chatID, s.userID)
	}
	if err != nil {
		s.pushError("mark_read", err)
		return err
	}
	s.dir.MarkChatRead(chatID)
	s.pushChats(s.dir.Chats())
	return nil
}

// Send stores a message and appends it to the open timeline right away; the
// feed echo of the same id is then a duplicate and ignored.
func (s *Session) Send(ctx context.Context, chatID, text string, opts ...composer.SendOption) (model.Message, error) {
	if err := s.member(ctx, chatID); err != nil {
		s.pushError("send_message", err)
		return model.Message{}, err
	}
	msg, err := s.composer.SendMessage(ctx, chatID, text, s.userID, opts...)
	if err != nil {
		s.pushError("send_message", err)
		return model.Message{}, err
	}
	s.sink.Push(KindMessageSent, msg)
	if s.tl.MergeInsert(msg) {
		s.TimelineChanged(chatID)
	}
	return msg, nil
}

func (s *Session) CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []string, tags []model.Tag) (model.Chat, error) {
	chat, err := s.composer.CreateChat(ctx, s.userID, name, isGroup, participantIDs, tags)
	if err != nil {
		s.pushError("create_chat", err)
		return model.Chat{}, err
	}
	s.sink.Push(KindChatCreated, chat)
	return chat, nil
}

func (s *Session) AddTag(ctx context.Context, chatID, tagType, label string) (model.Tag, error) {
	if err := s.member(ctx, chatID); err != nil {
		s.pushError("add_tag", err)
		return model.Tag{}, err
	}
	tag, err := s.composer.AddTag(ctx, chatID, tagType, label)
	if err != nil {
		s.pushError("add_tag", err)
		return model.Tag{}, err
	}
	return tag, nil
}

// Refresh reloads the directory and the open timeline from the store.
func (s *Session) Refresh(ctx context.Context) {
	chats, err := s.dir.LoadChats(ctx, s.userID)
	if err != nil {
		s.pushError("load_chats", err)
		return
	}
	s.pushChats(chats)
	if err := s.tl.Resync(ctx); err != nil {
		s.pushError("load_messages", err)
	}
	s.pushPresence(ctx)
}

// Close cancels every subscription, stops the feed and leaves presence.
// It is safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	cancels := s.cancels
	s.cancels = nil
	stop := s.stopFeed
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	s.tl.Close()
	if !started {
		return
	}
	stop()
	<-s.feedDone
	s.bg.Wait()
	if err := s.presence.Stop(ctx); err != nil {
		logger.Errorf("session %s: presence: %v", s.id, err)
	}
	metrics.Sessions.Dec()
}

// TimelineChanged implements timeline.Listener.
func (s *Session) TimelineChanged(chatID string) {
	if s.tl.ChatID() != chatID {
		return
	}
	s.sink.Push(KindTimeline, s.Timeline())
}

// MessageInserted implements timeline.Listener. Inbound messages in the
// selected chat are marked read while it stays selected.
func (s *Session) MessageInserted(chatID string, msg model.Message) {
	if msg.UserID == s.userID {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.tl.MarkRead(ctx, chatID, s.userID); err != nil {
			logger.Errorf("session %s: auto read %s: %v", s.id, chatID, err)
			return
		}
		s.dir.MarkChatRead(chatID)
		s.pushChats(s.dir.Chats())
	}()
}

// member returns errs.ErrNotMember unless the session user participates in
// chatID. Participants are never removed, so a chat in the directory
// snapshot needs no store round trip.
func (s *Session) member(ctx context.Context, chatID string) error {
	if s.userID == "" {
		return errs.ErrAuthRequired
	}
	if s.dir.Contains(chatID) {
		return nil
	}
	ids, err := s.store.ParticipantIDs(ctx, chatID)
	if err != nil {
		return errs.Fetch("session.ParticipantIDs", err)
	}
	if !slices.Contains(ids, s.userID) {
		return errs.ErrNotMember
	}
	return nil
}

func (s *Session) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Infof("session %s: feed reconnected, resyncing", s.id)
	s.Refresh(ctx)
}

// addCancel keeps c for Close, or runs it at once if Close already ran.
func (s *Session) addCancel(c func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c()
		return
	}
	s.cancels = append(s.cancels, c)
	s.mu.Unlock()
}

func (s *Session) pushChats(chats []model.Chat) {
	if chats == nil {
		chats = []model.Chat{}
	}
	s.sink.Push(KindChats, chats)
}

func (s *Session) pushPresence(ctx context.Context) {
	online, err := s.presence.Online(ctx)
	if err != nil {
		logger.Errorf("session %s: presence: %v", s.id, err)
		return
	}
	s.sink.Push(KindPresence, PresenceView{Online: online})
}

func (s *Session) pushError(op string, err error) {
	s.sink.Push(KindError, ErrorView{Op: op, Message: err.Error()})
}
