package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
)

type TagRepository struct {
	pool *pgxpool.Pool
}

func NewTagRepository(pool *pgxpool.Pool) *TagRepository {
	return &TagRepository{pool: pool}
}

// AddTags inserts the tags in one transaction. A (chat, type, label) that
// already exists is skipped.
func (r *TagRepository) AddTags(ctx context.Context, tags []mapper.TagRow) error {
	defer logger.DeferLogDuration("tag.AddTags", time.Now())()
	if len(tags) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tagRepo.AddTags begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, t := range tags {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(
			`INSERT INTO chat_tags (id, chat_id, type, label)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (chat_id, type, label) DO NOTHING`,
			id, t.ChatID, t.Type, t.Label,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("tagRepo.AddTags: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tagRepo.AddTags commit: %w", err)
	}
	return nil
}

// chatTags returns tags grouped by chat id. where filters chat_tags aliased t.
func chatTags(ctx context.Context, q querier, where string, args ...any) (map[string][]mapper.TagRow, error) {
	rows, err := q.Query(ctx,
		`SELECT t.id, t.chat_id, t.type, t.label FROM chat_tags t WHERE `+where+` ORDER BY t.chat_id, t.created_at, t.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("tagRepo.tags query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]mapper.TagRow)
	for rows.Next() {
		var t mapper.TagRow
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Type, &t.Label); err != nil {
			return nil, fmt.Errorf("tagRepo.tags scan: %w", err)
		}
		out[t.ChatID] = append(out[t.ChatID], t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tagRepo.tags rows: %w", err)
	}
	return out, nil
}
