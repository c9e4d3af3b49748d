package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/readstate"
	"github.com/inbox/internal/store"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) InsertMessage(ctx context.Context, m mapper.MessageRow) error {
	defer logger.DeferLogDuration("msg.InsertMessage", time.Now())()
	createdAt, err := mapper.ParseTimestamp(m.CreatedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.InsertMessage: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, user_id, text, status, forwarded_from, attachment_url, attachment_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ChatID, m.UserID, m.Text, m.Status, m.ForwardedFrom, m.AttachmentURL, m.AttachmentType, createdAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.InsertMessage: %w", err)
	}
	return nil
}

// ListMessages returns the whole history of a chat, oldest first.
func (r *MessageRepository) ListMessages(ctx context.Context, chatID string) ([]store.MessageRecord, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.user_id, m.text, m.status, m.forwarded_from, m.attachment_url, m.attachment_type,
		        m.created_at, COALESCE(u.full_name, '')
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at, m.id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	records := make([]store.MessageRecord, 0, 64)
	for rows.Next() {
		var rec store.MessageRecord
		var createdAt time.Time
		m := &rec.Row
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Text, &m.Status, &m.ForwardedFrom, &m.AttachmentURL, &m.AttachmentType,
			&createdAt, &rec.SenderName); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		m.CreatedAt = mapper.FormatTimestamp(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages rows: %w", err)
	}
	return records, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages m SET status = 'read', updated_at = now()
		 WHERE m.chat_id = $2 AND `+readstate.UnreadCondition,
		readerID, chatID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, chatID, userID string) (int, error) {
	defer logger.DeferLogDuration("msg.CountUnread", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages m WHERE m.chat_id = $2 AND `+readstate.UnreadCondition,
		userID, chatID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountUnread: %w", err)
	}
	return n, nil
}
