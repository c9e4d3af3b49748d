package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store bundles the repositories into a store.Store backed by Postgres.
type Store struct {
	*UserRepository
	*ChatRepository
	*TagRepository
	*MessageRepository
	*DirectoryRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		UserRepository:      NewUserRepository(pool),
		ChatRepository:      NewChatRepository(pool),
		TagRepository:       NewTagRepository(pool),
		MessageRepository:   NewMessageRepository(pool),
		DirectoryRepository: NewDirectoryRepository(pool),
	}
}
