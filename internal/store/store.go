package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the messages table and its secondary indices if they
// do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id          serial PRIMARY KEY,
			user_id     int NOT NULL,
			channel_id  int NOT NULL,
			content     text NOT NULL,
			created_at  timestamp NOT NULL,
			inserted_at timestamp NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages (channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_user ON messages (channel_id, user_id)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertBatch commits a batch of staged messages in a single transaction.
// The store assigns id and inserted_at.
func (s *Store) InsertBatch(ctx context.Context, msgs []events.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	rows := make([][]any, len(msgs))
	for i, m := range msgs {
		rows[i] = []any{m.UserID, m.ChannelID, m.Content, m.CreatedAt}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"messages"},
		[]string{"user_id", "channel_id", "content", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	slog.Debug("inserted batch", "count", len(msgs))
	return nil
}

// RecentMessages returns the last N persisted rows, newest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, channel_id, content, created_at, inserted_at
		FROM messages
		ORDER BY inserted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	results := make([]StoredMessage, 0, limit)
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChannelID, &m.Content, &m.CreatedAt, &m.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteAll truncates the messages table and reports how many rows went away.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
