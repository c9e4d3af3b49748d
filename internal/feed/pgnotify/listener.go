// Package pgnotify is the Postgres transport of the change feed: it LISTENs on
// the channel the notify_chat_change trigger publishes to.
package pgnotify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inbox/internal/feed"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/metrics"
)

const DefaultChannel = "chat_changes"

type Listener struct {
	pool    *pgxpool.Pool
	channel string
}

func New(pool *pgxpool.Pool, channel string) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{pool: pool, channel: channel}
}

// Connect takes a connection out of the pool for good: a LISTENing session
// must not be handed back to other users of the pool.
func (l *Listener) Connect(ctx context.Context) (feed.Stream, error) {
	pc, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgnotify.Connect acquire: %w", err)
	}
	conn := pc.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("pgnotify.Connect listen: %w", err)
	}
	logger.Infof("pgnotify: listening on %s", l.channel)
	return &stream{conn: conn, channel: l.channel}, nil
}

type stream struct {
	conn    *pgx.Conn
	channel string
}

func (s *stream) Next(ctx context.Context) (feed.Event, error) {
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			return feed.Event{}, fmt.Errorf("pgnotify.Next: %w", err)
		}
		if n.Channel != s.channel {
			continue
		}
		ev, err := feed.ParseEvent([]byte(n.Payload))
		if err != nil {
			metrics.FeedDropped.WithLabelValues("malformed").Inc()
			logger.Errorf("pgnotify: drop notification from pid %d: %v", n.PID, err)
			continue
		}
		return ev, nil
	}
}

func (s *stream) Close() error {
	return s.conn.Close(context.Background())
}
