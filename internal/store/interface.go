package store

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

// StoredMessage is a persisted row from the messages table.
type StoredMessage struct {
	ID         int64     `json:"id"`
	UserID     int       `json:"user_id"`
	ChannelID  int       `json:"channel_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	InsertedAt time.Time `json:"inserted_at"`
}

// DataStore is the interface consumed by the coordinator and the API.
// The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertBatch(ctx context.Context, msgs []events.Message) error
	RecentMessages(ctx context.Context, limit int) ([]StoredMessage, error)
	DeleteAll(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}
