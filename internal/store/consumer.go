package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AddConsumer registers a feed subscriber and returns its assigned id.
func (s *Store) AddConsumer(ctx context.Context, name string) (*Consumer, error) {
	c := &Consumer{Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO consumer (name) VALUES ($1) RETURNING id`, name).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("insert consumer: %w", err)
	}
	return c, nil
}

// ConsumerByID looks up a consumer. Returns nil without error when the id is
// unknown.
func (s *Store) ConsumerByID(ctx context.Context, id int64) (*Consumer, error) {
	c := &Consumer{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name FROM consumer WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select consumer: %w", err)
	}
	return c, nil
}

// Consumers lists all registered consumers ordered by id.
func (s *Store) Consumers(ctx context.Context) ([]Consumer, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM consumer ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select consumers: %w", err)
	}
	defer rows.Close()

	var result []Consumer
	for rows.Next() {
		var c Consumer
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan consumer: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumers: %w", err)
	}
	return result, nil
}

// ConsumerLag describes one consumer's delivery backlog.
type ConsumerLag struct {
	Consumer   Consumer
	Dispatches int64
	Due        int64
}

// ConsumerLags reports per-consumer dispatch counts and how many are due.
func (s *Store) ConsumerLags(ctx context.Context) ([]ConsumerLag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name,
		       count(d.mail_id),
		       count(d.mail_id) FILTER (WHERE d.next_time <= now())
		FROM consumer c
		LEFT JOIN dispatch d ON d.consumer_id = c.id
		GROUP BY c.id, c.name
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("select consumer lags: %w", err)
	}
	defer rows.Close()

	var result []ConsumerLag
	for rows.Next() {
		var l ConsumerLag
		if err := rows.Scan(&l.Consumer.ID, &l.Consumer.Name, &l.Dispatches, &l.Due); err != nil {
			return nil, fmt.Errorf("scan consumer lag: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumer lags: %w", err)
	}
	return result, nil
}
