package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) CreateChat(ctx context.Context, c mapper.ChatRow) error {
	defer logger.DeferLogDuration("chat.CreateChat", time.Now())()
	createdAt := time.Now()
	if t, err := mapper.ParseTimestamp(c.CreatedAt); err == nil {
		createdAt = t
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (id, name, avatar_url, is_group, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.AvatarURL, c.IsGroup, c.CreatedBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateChat: %w", err)
	}
	return nil
}

// DeleteChat relies on ON DELETE CASCADE for participants, messages and tags.
func (r *ChatRepository) DeleteChat(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("chat.DeleteChat", time.Now())()
	if _, err := r.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID); err != nil {
		return fmt.Errorf("chatRepo.DeleteChat: %w", err)
	}
	return nil
}

// AddParticipants inserts all rows in one transaction; existing memberships are kept.
func (r *ChatRepository) AddParticipants(ctx context.Context, rows []mapper.ParticipantRow) error {
	defer logger.DeferLogDuration("chat.AddParticipants", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.AddParticipants begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, p := range rows {
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(
			`INSERT INTO chat_participants (id, chat_id, user_id, role)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (chat_id, user_id) DO NOTHING`,
			id, p.ChatID, p.UserID, p.Role,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("chatRepo.AddParticipants: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.AddParticipants commit: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetChat(ctx context.Context, chatID string) (mapper.ChatRow, error) {
	defer logger.DeferLogDuration("chat.GetChat", time.Now())()
	c, err := getChat(ctx, r.pool, chatID)
	if err != nil {
		return c, err
	}
	participants, err := chatParticipants(ctx, r.pool, `p.chat_id = $1`, chatID)
	if err != nil {
		return c, err
	}
	tags, err := chatTags(ctx, r.pool, `t.chat_id = $1`, chatID)
	if err != nil {
		return c, err
	}
	c.Participants = participants[chatID]
	c.Tags = tags[chatID]
	return c, nil
}

func (r *ChatRepository) ParticipantIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.ParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY created_at, id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}

const chatCols = `c.id, c.name, c.avatar_url, c.is_group, c.created_by, c.created_at`

func scanChat(s interface{ Scan(dest ...any) error }, c *mapper.ChatRow) error {
	var createdAt time.Time
	if err := s.Scan(&c.ID, &c.Name, &c.AvatarURL, &c.IsGroup, &c.CreatedBy, &createdAt); err != nil {
		return err
	}
	c.CreatedAt = mapper.FormatTimestamp(createdAt)
	return nil
}

func getChat(ctx context.Context, q querier, chatID string) (mapper.ChatRow, error) {
	var c mapper.ChatRow
	err := scanChat(q.QueryRow(ctx, `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, chatID), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("chatRepo.GetChat: %w", err)
	}
	return c, nil
}

// chatParticipants returns participant users grouped by chat id, in join order.
// where filters chat_participants aliased p.
func chatParticipants(ctx context.Context, q querier, where string, args ...any) (map[string][]mapper.UserRow, error) {
	rows, err := q.Query(ctx,
		`SELECT `+userCols+`, p.chat_id
		 FROM chat_participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE `+where+`
		 ORDER BY p.chat_id, p.created_at, p.id`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.participants query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]mapper.UserRow)
	for rows.Next() {
		var u mapper.UserRow
		var chatID string
		if err := scanUser(rows, &u, &chatID); err != nil {
			return nil, fmt.Errorf("chatRepo.participants scan: %w", err)
		}
		out[chatID] = append(out[chatID], u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.participants rows: %w", err)
	}
	return out, nil
}
