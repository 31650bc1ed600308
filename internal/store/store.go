// Package store implements the PostgreSQL archive: mail, attachments,
// consumers, and per-consumer dispatch schedules.
//
// PostgreSQL is load-bearing here, not a default. Dispatch claiming relies
// on row-level locks (FOR NO KEY UPDATE, FOR KEY SHARE, FOR SHARE), on a
// data-modifying CTE with RETURNING, on server-side now(), and on
// LISTEN/NOTIFY for stream wakeups.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the connection pool.
type Config struct {
	// URL is a PostgreSQL connection URL or DSN. Empty means libpq
	// defaults (PGHOST, PGDATABASE, ...).
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store provides typed access to the archive database.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects a pool to the database described by cfg and verifies it
// with a ping.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the tables and indexes if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Stats summarizes table sizes and the delivery backlog.
type Stats struct {
	Mails         int64
	Attachments   int64
	Consumers     int64
	Dispatches    int64
	DueDispatches int64
}

// Stats counts the archive's rows and how many dispatches are currently due.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	const query = `
		SELECT (SELECT count(*) FROM mail),
		       (SELECT count(*) FROM attachment),
		       (SELECT count(*) FROM consumer),
		       (SELECT count(*) FROM dispatch),
		       (SELECT count(*) FROM dispatch WHERE next_time <= now())`

	var st Stats
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.Mails, &st.Attachments, &st.Consumers, &st.Dispatches, &st.DueDispatches)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	return &st, nil
}
