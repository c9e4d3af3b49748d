package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/model"
	"github.com/inbox/internal/readstate"
	"github.com/inbox/internal/store"
)

var _ store.Store = (*Store)(nil)

// Publisher receives the row changes the store makes, in commit order.
type Publisher interface {
	Publish(ev feed.Event)
}

// Store is an in-process implementation of store.Store. Every mutation emits
// the same change events the Postgres triggers would, so the realtime path can
// run without a database.
type Store struct {
	pub Publisher

	mu           sync.RWMutex
	users        map[string]mapper.UserRow
	chats        map[string]mapper.ChatRow
	chatOrder    []string
	participants []mapper.ParticipantRow
	messages     map[string][]mapper.MessageRow
	tags         []mapper.TagRow
	seq          int

	failMu sync.Mutex
	fail   map[string]error
	writes map[string]int
}

func NewStore(pub Publisher) *Store {
	return &Store{
		pub:      pub,
		users:    make(map[string]mapper.UserRow),
		chats:    make(map[string]mapper.ChatRow),
		messages: make(map[string][]mapper.MessageRow),
		fail:     make(map[string]error),
		writes:   make(map[string]int),
	}
}

// Fail makes every later call of op (a method name, e.g. "AddTags") return err.
// A nil err clears the failure.
func (s *Store) Fail(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Writes returns how many successful calls of op the store has served.
func (s *Store) Writes(op string) int {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.writes[op]
}

func (s *Store) check(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err := s.fail[op]; err != nil {
		return fmt.Errorf("memory.%s: %w", op, err)
	}
	return nil
}

func (s *Store) count(op string) {
	s.failMu.Lock()
	s.writes[op]++
	s.failMu.Unlock()
}

func (s *Store) emit(events []feed.Event) {
	if s.pub == nil {
		return
	}
	for _, ev := range events {
		s.pub.Publish(ev)
	}
}

func change(table string, typ feed.EventType, old, cur any) feed.Event {
	ev := feed.Event{Table: table, Type: typ}
	if old != nil {
		ev.Old = mustJSON(old)
	}
	if cur != nil {
		ev.New = mustJSON(cur)
	}
	return ev
}

func unread(row mapper.MessageRow, userID string) bool {
	m := mapper.ToMessage(row, "")
	return readstate.IsUnread(&m, userID)
}

func toMessages(rows []mapper.MessageRow) []model.Message {
	out := make([]model.Message, len(rows))
	for i, row := range rows {
		out[i] = mapper.ToMessage(row, "")
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("memory: encode row: %v", err)
		return nil
	}
	return b
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// PutUser inserts or replaces a user profile.
func (s *Store) PutUser(row mapper.UserRow) {
	s.mu.Lock()
	s.users[row.ID] = row
	s.mu.Unlock()
}

func (s *Store) GetUser(ctx context.Context, id string) (mapper.UserRow, error) {
	if err := s.check("GetUser"); err != nil {
		return mapper.UserRow{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return mapper.UserRow{}, errs.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]mapper.UserRow, error) {
	if err := s.check("GetUsers"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mapper.UserRow, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// LoadDirectory reads every chat of userID under one read lock, so all
// summaries come from the same state.
func (s *Store) LoadDirectory(ctx context.Context, userID string) ([]store.DirectoryEntry, error) {
	if err := s.check("LoadDirectory"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []store.DirectoryEntry
	for _, chatID := range s.chatOrder {
		if !s.isParticipant(chatID, userID) {
			continue
		}
		entry := store.DirectoryEntry{Chat: s.chatWithRelations(chatID)}
		rows := s.messages[chatID]
		msgs := toMessages(rows)
		entry.Unread = readstate.Count(msgs, userID)
		latest := -1
		for i := range msgs {
			if latest < 0 || msgs[latest].Before(&msgs[i]) {
				latest = i
			}
		}
		if latest >= 0 {
			last := rows[latest]
			entry.Last = &mapper.LastMessage{
				Text:           last.Text,
				SenderName:     s.users[last.UserID].FullName,
				Status:         last.Status,
				AttachmentType: last.AttachmentType,
				CreatedAt:      last.CreatedAt,
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) isParticipant(chatID, userID string) bool {
	for _, p := range s.participants {
		if p.ChatID == chatID && p.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Store) chatWithRelations(chatID string) mapper.ChatRow {
	row := s.chats[chatID]
	row.Participants = nil
	row.Tags = nil
	for _, p := range s.participants {
		if p.ChatID != chatID {
			continue
		}
		u, ok := s.users[p.UserID]
		if !ok {
			u = mapper.UserRow{ID: p.UserID}
		}
		row.Participants = append(row.Participants, u)
	}
	for _, t := range s.tags {
		if t.ChatID == chatID {
			row.Tags = append(row.Tags, t)
		}
	}
	return row
}

func (s *Store) CreateChat(ctx context.Context, row mapper.ChatRow) error {
	if err := s.check("CreateChat"); err != nil {
		return err
	}
	s.mu.Lock()
	if _, dup := s.chats[row.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("memory.CreateChat: duplicate id %s", row.ID)
	}
	row.Participants, row.Tags = nil, nil
	s.chats[row.ID] = row
	s.chatOrder = append(s.chatOrder, row.ID)
	s.mu.Unlock()

	s.count("CreateChat")
	s.emit([]feed.Event{change("chats", feed.Insert, nil, row)})
	return nil
}

// DeleteChat removes the chat and cascades to its participants, messages and tags.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.check("DeleteChat"); err != nil {
		return err
	}
	s.mu.Lock()
	row, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	var events []feed.Event
	delete(s.chats, chatID)
	for i, id := range s.chatOrder {
		if id == chatID {
			s.chatOrder = append(s.chatOrder[:i], s.chatOrder[i+1:]...)
			break
		}
	}
	kept := s.participants[:0]
	for _, p := range s.participants {
		if p.ChatID == chatID {
			events = append(events, change("chat_participants", feed.Delete, p, nil))
			continue
		}
		kept = append(kept, p)
	}
	s.participants = kept
	keptTags := s.tags[:0]
	for _, t := range s.tags {
		if t.ChatID != chatID {
			keptTags = append(keptTags, t)
		}
	}
	s.tags = keptTags
	delete(s.messages, chatID)
	events = append(events, change("chats", feed.Delete, row, nil))
	s.mu.Unlock()

	s.count("DeleteChat")
	s.emit(events)
	return nil
}

// AddParticipants inserts all rows or none. Existing memberships are skipped.
func (s *Store) AddParticipants(ctx context.Context, rows []mapper.ParticipantRow) error {
	if err := s.check("AddParticipants"); err != nil {
		return err
	}
	s.mu.Lock()
	for _, p := range rows {
		if _, ok := s.chats[p.ChatID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("memory.AddParticipants: chat %s: %w", p.ChatID, errs.ErrNotFound)
		}
		if _, ok := s.users[p.UserID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("memory.AddParticipants: user %s: %w", p.UserID, errs.ErrNotFound)
		}
	}
	var events []feed.Event
	for _, p := range rows {
		if s.isParticipant(p.ChatID, p.UserID) {
			continue
		}
		if p.ID == "" {
			p.ID = s.nextID("participant")
		}
		s.participants = append(s.participants, p)
		events = append(events, change("chat_participants", feed.Insert, nil, p))
	}
	s.mu.Unlock()

	s.count("AddParticipants")
	s.emit(events)
	return nil
}

func (s *Store) AddTags(ctx context.Context, rows []mapper.TagRow) error {
	if err := s.check("AddTags"); err != nil {
		return err
	}
	s.mu.Lock()
	var events []feed.Event
	for _, t := range rows {
		if _, ok := s.chats[t.ChatID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("memory.AddTags: chat %s: %w", t.ChatID, errs.ErrNotFound)
		}
		if s.hasTag(t) {
			continue
		}
		if t.ID == "" {
			t.ID = s.nextID("tag")
		}
		s.tags = append(s.tags, t)
		events = append(events, change("chat_tags", feed.Insert, nil, t))
	}
	s.mu.Unlock()

	s.count("AddTags")
	s.emit(events)
	return nil
}

func (s *Store) hasTag(t mapper.TagRow) bool {
	for _, existing := range s.tags {
		if existing.ChatID == t.ChatID && existing.Type == t.Type && existing.Label == t.Label {
			return true
		}
	}
	return false
}

func (s *Store) GetChat(ctx context.Context, chatID string) (mapper.ChatRow, error) {
	if err := s.check("GetChat"); err != nil {
		return mapper.ChatRow{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.chats[chatID]; !ok {
		return mapper.ChatRow{}, errs.ErrNotFound
	}
	return s.chatWithRelations(chatID), nil
}

func (s *Store) ParticipantIDs(ctx context.Context, chatID string) ([]string, error) {
	if err := s.check("ParticipantIDs"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, p := range s.participants {
		if p.ChatID == chatID {
			ids = append(ids, p.UserID)
		}
	}
	return ids, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]store.MessageRecord, error) {
	if err := s.check("ListMessages"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.messages[chatID]
	recs := make([]store.MessageRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, store.MessageRecord{Row: row, SenderName: s.users[row.UserID].FullName})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := mapper.ToMessage(recs[i].Row, ""), mapper.ToMessage(recs[j].Row, "")
		return a.Before(&b)
	})
	return recs, nil
}

func (s *Store) InsertMessage(ctx context.Context, row mapper.MessageRow) error {
	if err := s.check("InsertMessage"); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.chats[row.ChatID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory.InsertMessage: chat %s: %w", row.ChatID, errs.ErrNotFound)
	}
	for _, existing := range s.messages[row.ChatID] {
		if existing.ID == row.ID {
			s.mu.Unlock()
			return fmt.Errorf("memory.InsertMessage: duplicate id %s", row.ID)
		}
	}
	if row.Status == "" {
		row.Status = string(model.MessageStatusSent)
	}
	s.messages[row.ChatID] = append(s.messages[row.ChatID], row)
	s.mu.Unlock()

	s.count("InsertMessage")
	s.emit([]feed.Event{change("messages", feed.Insert, nil, row)})
	return nil
}

func (s *Store) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	if err := s.check("MarkRead"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	var events []feed.Event
	rows := s.messages[chatID]
	for i := range rows {
		if !unread(rows[i], readerID) {
			continue
		}
		old := rows[i]
		rows[i].Status = string(model.MessageStatusRead)
		events = append(events, change("messages", feed.Update, old, rows[i]))
	}
	s.mu.Unlock()

	s.count("MarkRead")
	s.emit(events)
	return len(events), nil
}

func (s *Store) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	if err := s.check("CountUnread"); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readstate.Count(toMessages(s.messages[chatID]), userID), nil
}
