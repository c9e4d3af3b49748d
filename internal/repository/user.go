package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/mapper"
)

var ErrNotFound = errs.ErrNotFound

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// userCols is the SELECT list scanUser expects, for a users table aliased u.
const userCols = `u.id, u.full_name, u.email, u.phone, u.avatar_url`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into u; the column order matches userCols.
func scanUser(s interface{ Scan(dest ...any) error }, u *mapper.UserRow, extra ...any) error {
	return s.Scan(append([]any{&u.ID, &u.FullName, &u.Email, &u.Phone, &u.AvatarURL}, extra...)...)
}

func (r *UserRepository) Create(ctx context.Context, u mapper.UserRow) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, full_name, email, phone, avatar_url)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email,
		     phone = EXCLUDED.phone, avatar_url = EXCLUDED.avatar_url, updated_at = now()`,
		u.ID, u.FullName, u.Email, u.Phone, u.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (mapper.UserRow, error) {
	defer logger.DeferLogDuration("user.GetUser", time.Now())()
	var u mapper.UserRow
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users u WHERE u.id = $1`, id)
	if err := scanUser(row, &u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, ErrNotFound
		}
		return u, fmt.Errorf("userRepo.GetUser: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetUsers(ctx context.Context, ids []string) ([]mapper.UserRow, error) {
	defer logger.DeferLogDuration("user.GetUsers", time.Now())()
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userCols+` FROM users u WHERE u.id::text = ANY($1::text[]) ORDER BY u.full_name`, ids)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetUsers query: %w", err)
	}
	defer rows.Close()

	users := make([]mapper.UserRow, 0, len(ids))
	for rows.Next() {
		var u mapper.UserRow
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetUsers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetUsers rows: %w", err)
	}
	return users, nil
}
