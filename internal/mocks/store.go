package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/store"
)

var _ store.Store = (*StoreMock)(nil)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) GetUser(ctx context.Context, id string) (mapper.UserRow, error) {
	args := m.Called(ctx, id)
	var row mapper.UserRow
	if val := args.Get(0); val != nil {
		row = val.(mapper.UserRow)
	}
	return row, args.Error(1)
}

func (m *StoreMock) GetUsers(ctx context.Context, ids []string) ([]mapper.UserRow, error) {
	args := m.Called(ctx, ids)
	var rows []mapper.UserRow
	if val := args.Get(0); val != nil {
		rows = val.([]mapper.UserRow)
	}
	return rows, args.Error(1)
}

func (m *StoreMock) LoadDirectory(ctx context.Context, userID string) ([]store.DirectoryEntry, error) {
	args := m.Called(ctx, userID)
	var list []store.DirectoryEntry
	if val := args.Get(0); val != nil {
		list = val.([]store.DirectoryEntry)
	}
	return list, args.Error(1)
}

func (m *StoreMock) CreateChat(ctx context.Context, row mapper.ChatRow) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *StoreMock) DeleteChat(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *StoreMock) AddParticipants(ctx context.Context, rows []mapper.ParticipantRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *StoreMock) AddTags(ctx context.Context, rows []mapper.TagRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *StoreMock) GetChat(ctx context.Context, chatID string) (mapper.ChatRow, error) {
	args := m.Called(ctx, chatID)
	var row mapper.ChatRow
	if val := args.Get(0); val != nil {
		row = val.(mapper.ChatRow)
	}
	return row, args.Error(1)
}

func (m *StoreMock) ParticipantIDs(ctx context.Context, chatID string) ([]string, error) {
	args := m.Called(ctx, chatID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *StoreMock) ListMessages(ctx context.Context, chatID string) ([]store.MessageRecord, error) {
	args := m.Called(ctx, chatID)
	var list []store.MessageRecord
	if val := args.Get(0); val != nil {
		list = val.([]store.MessageRecord)
	}
	return list, args.Error(1)
}

func (m *StoreMock) InsertMessage(ctx context.Context, row mapper.MessageRow) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *StoreMock) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Int(0), args.Error(1)
}

func (m *StoreMock) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Int(0), args.Error(1)
}
