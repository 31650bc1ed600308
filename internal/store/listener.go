package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelName returns the notification channel for a consumer, in the
// unquoted form pg_notify expects. Payloads on the channel are mail ids.
func ChannelName(consumerID int64) string {
	return fmt.Sprintf("consumer_id=%d", consumerID)
}

// Listener holds a dedicated connection subscribed to one consumer's
// notification channel.
//
// The connection must never be shared with query traffic: the driver owns it
// for the duration of each notification wait, and a transaction multiplexed
// onto it would deadlock against that wait. Streaming sessions therefore run
// their claims through the pool while the listener keeps this connection to
// itself.
type Listener struct {
	conn    *pgxpool.Conn
	channel string
}

// Listen acquires a dedicated connection from the pool and subscribes it to
// the consumer's channel. The caller must Close the listener on every exit
// path.
func (s *Store) Listen(ctx context.Context, consumerID int64) (*Listener, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	channel := ChannelName(consumerID)
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	s.logger.Debug("listening", "channel", channel)
	return &Listener{conn: conn, channel: channel}, nil
}

// Wait blocks until a notification arrives on the channel and returns its
// payload. It returns the context's error on cancellation or deadline; the
// connection stays usable for further waits either way.
func (l *Listener) Wait(ctx context.Context) (string, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

// Close unsubscribes and returns the connection to the pool. It uses its own
// deadline so teardown proceeds even when the session's context is already
// cancelled; a failed UNLISTEN destroys the connection instead of recycling
// it.
func (l *Listener) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{l.channel}.Sanitize())
	if err != nil {
		_ = l.conn.Conn().Close(ctx)
	}
	l.conn.Release()
}

// NotifyConsumer signals that a mail became eligible for a consumer. The
// producer calls this after committing the dispatch row.
func (s *Store) NotifyConsumer(ctx context.Context, consumerID int64, mailID string) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelName(consumerID), mailID)
	if err != nil {
		return fmt.Errorf("notify %s: %w", ChannelName(consumerID), err)
	}
	return nil
}
