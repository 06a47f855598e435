package buffer

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

// ErrEmpty is returned by PopWait when the buffer held nothing within the
// timeout. It is the coordinator's cue to re-evaluate the time trigger.
var ErrEmpty = errors.New("buffer empty")

// Buffer is the interface consumed by the API, coordinator, and broadcaster.
// The concrete implementation is *Client (go-redis backed).
type Buffer interface {
	Ping(ctx context.Context) error

	// Buffer list. Push appends one encoded message and tracks its id;
	// PushBatch does the same for a burst in one round trip. PushFront
	// re-queues payloads (oldest first) so they are the next entries popped,
	// in their original order.
	Push(ctx context.Context, payload []byte, trackingID string) error
	PushBatch(ctx context.Context, payloads [][]byte, trackingIDs []string) error
	PushFront(ctx context.Context, payloads [][]byte) error
	PopWait(ctx context.Context, timeout time.Duration) ([]byte, error)
	Len(ctx context.Context) (int64, error)
	Drain(ctx context.Context) (int64, error)

	// Lifecycle tracking.
	QueuedIDs(ctx context.Context, limit int) ([]string, error)
	MarkPersisted(ctx context.Context, ids []string) error
	DeadLetter(ctx context.Context, payloads [][]byte) error
	DeadLetterLen(ctx context.Context) (int64, error)

	// Scalar counters. Reads treat a missing key as the zero value.
	GetInt(ctx context.Context, key string) (int64, error)
	GetFloat(ctx context.Context, key string) (float64, error)
	GetString(ctx context.Context, key string) (string, error)
	SetInt(ctx context.Context, key string, v int64) error
	SetFloat(ctx context.Context, key string, v float64) error
	SetString(ctx context.Context, key, v string) error
	IncrBy(ctx context.Context, key string, n int64) error
	EnsureCounter(ctx context.Context, key string) error
	Delete(ctx context.Context, keys ...string) error

	// Persistence event channel. Subscribe is confirmed before it returns so
	// no publication is missed during session hand-off.
	PublishEvent(ctx context.Context, ev events.PersistenceEvent) error
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)

	Close() error
}
