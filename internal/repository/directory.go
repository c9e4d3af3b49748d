package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
	"github.com/inbox/internal/readstate"
	"github.com/inbox/internal/store"
)

// memberOf selects the chats of the user bound to $1.
const memberOf = `(SELECT chat_id FROM chat_participants WHERE user_id = $1)`

type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// LoadDirectory reads all summaries inside one REPEATABLE READ, read-only
// transaction, so unread counts and last messages agree across chats.
func (r *DirectoryRepository) LoadDirectory(ctx context.Context, userID string) ([]store.DirectoryEntry, error) {
	defer logger.DeferLogDuration("directory.LoadDirectory", time.Now())()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("directoryRepo.LoadDirectory begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chats, err := r.chats(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, tx.Commit(ctx)
	}
	participants, err := chatParticipants(ctx, tx, `p.chat_id IN `+memberOf, userID)
	if err != nil {
		return nil, err
	}
	tags, err := chatTags(ctx, tx, `t.chat_id IN `+memberOf, userID)
	if err != nil {
		return nil, err
	}
	last, err := r.lastMessages(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	unread, err := r.unreadCounts(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("directoryRepo.LoadDirectory commit: %w", err)
	}

	entries := make([]store.DirectoryEntry, 0, len(chats))
	for _, c := range chats {
		c.Participants = participants[c.ID]
		c.Tags = tags[c.ID]
		entries = append(entries, store.DirectoryEntry{Chat: c, Last: last[c.ID], Unread: unread[c.ID]})
	}
	return entries, nil
}

func (r *DirectoryRepository) chats(ctx context.Context, q querier, userID string) ([]mapper.ChatRow, error) {
	rows, err := q.Query(ctx,
		`SELECT `+chatCols+` FROM chats c WHERE c.id IN `+memberOf+` ORDER BY c.created_at, c.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("directoryRepo.chats query: %w", err)
	}
	defer rows.Close()

	chats := make([]mapper.ChatRow, 0, 16)
	for rows.Next() {
		var c mapper.ChatRow
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("directoryRepo.chats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directoryRepo.chats rows: %w", err)
	}
	return chats, nil
}

func (r *DirectoryRepository) lastMessages(ctx context.Context, q querier, userID string) (map[string]*mapper.LastMessage, error) {
	rows, err := q.Query(ctx,
		`SELECT DISTINCT ON (m.chat_id) m.chat_id, m.text, m.status, m.attachment_type, m.created_at, COALESCE(u.full_name, '')
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.chat_id IN `+memberOf+`
		 ORDER BY m.chat_id, m.created_at DESC, m.id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("directoryRepo.lastMessages query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*mapper.LastMessage)
	for rows.Next() {
		var chatID string
		var createdAt time.Time
		lm := &mapper.LastMessage{}
		if err := rows.Scan(&chatID, &lm.Text, &lm.Status, &lm.AttachmentType, &createdAt, &lm.SenderName); err != nil {
			return nil, fmt.Errorf("directoryRepo.lastMessages scan: %w", err)
		}
		lm.CreatedAt = mapper.FormatTimestamp(createdAt)
		out[chatID] = lm
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directoryRepo.lastMessages rows: %w", err)
	}
	return out, nil
}

func (r *DirectoryRepository) unreadCounts(ctx context.Context, q querier, userID string) (map[string]int, error) {
	rows, err := q.Query(ctx,
		`SELECT m.chat_id, count(*) FROM messages m
		 WHERE m.chat_id IN `+memberOf+` AND `+readstate.UnreadCondition+`
		 GROUP BY m.chat_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("directoryRepo.unreadCounts query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var chatID string
		var n int
		if err := rows.Scan(&chatID, &n); err != nil {
			return nil, fmt.Errorf("directoryRepo.unreadCounts scan: %w", err)
		}
		out[chatID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directoryRepo.unreadCounts rows: %w", err)
	}
	return out, nil
}
