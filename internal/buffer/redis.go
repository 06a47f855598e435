package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

// Client wraps the metrics store (Redis): the buffer list, scalar counters,
// id-tracking lists, and the batch notification channel.
type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr, password string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping buffer at %s: %w", addr, err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Push(ctx context.Context, payload []byte, trackingID string) error {
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, KeyPending, payload)
	pipe.LPush(ctx, KeyQueuedIDs, trackingID)
	pipe.LTrim(ctx, KeyQueuedIDs, 0, queuedIDsKeep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// PushBatch appends a burst in a single pipeline so every returned tracking id
// corresponds to an acknowledged append.
func (c *Client) PushBatch(ctx context.Context, payloads [][]byte, trackingIDs []string) error {
	pipe := c.rdb.Pipeline()
	for _, p := range payloads {
		pipe.LPush(ctx, KeyPending, p)
	}
	for _, id := range trackingIDs {
		pipe.LPush(ctx, KeyQueuedIDs, id)
	}
	pipe.LTrim(ctx, KeyQueuedIDs, 0, queuedIDsKeep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push batch: %w", err)
	}
	return nil
}

// PushFront re-queues payloads at the consume end. Payloads arrive oldest
// first; pushing them in reverse leaves the oldest rightmost, so BRPOP yields
// them again in their original order.
func (c *Client) PushFront(ctx context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	reversed := make([]any, 0, len(payloads))
	for i := len(payloads) - 1; i >= 0; i-- {
		reversed = append(reversed, payloads[i])
	}
	if err := c.rdb.RPush(ctx, KeyPending, reversed...).Err(); err != nil {
		return fmt.Errorf("requeue batch: %w", err)
	}
	return nil
}

func (c *Client) PopWait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := c.rdb.BRPop(ctx, timeout, KeyPending).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop message: %w", err)
	}
	// BRPOP returns [key, value].
	return []byte(res[1]), nil
}

func (c *Client) Len(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, KeyPending).Result()
	if err != nil {
		return 0, fmt.Errorf("buffer length: %w", err)
	}
	return n, nil
}

// Drain removes the buffer list and id-tracking lists, returning how many
// pending entries were discarded. Counters are left alone: they are lifetime
// totals, not a view of the current queue.
func (c *Client) Drain(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, KeyPending).Result()
	if err != nil {
		return 0, fmt.Errorf("buffer length before drain: %w", err)
	}
	if err := c.rdb.Del(ctx, KeyPending, KeyQueuedIDs, KeyPersistedIDs).Err(); err != nil {
		return 0, fmt.Errorf("drain buffer: %w", err)
	}
	return n, nil
}

func (c *Client) QueuedIDs(ctx context.Context, limit int) ([]string, error) {
	ids, err := c.rdb.LRange(ctx, KeyQueuedIDs, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queued ids: %w", err)
	}
	return ids, nil
}

// MarkPersisted records committed tracking ids and removes them from the
// queued-id list so dashboards can flip their status.
func (c *Client) MarkPersisted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, id := range ids {
		pipe.LPush(ctx, KeyPersistedIDs, id)
		pipe.LRem(ctx, KeyQueuedIDs, 0, id)
	}
	pipe.LTrim(ctx, KeyPersistedIDs, 0, persistedIDsKeep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark persisted: %w", err)
	}
	return nil
}

func (c *Client) DeadLetter(ctx context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	vals := make([]any, len(payloads))
	for i, p := range payloads {
		vals[i] = p
	}
	if err := c.rdb.LPush(ctx, KeyDeadLetter, vals...).Err(); err != nil {
		return fmt.Errorf("dead-letter batch: %w", err)
	}
	return nil
}

func (c *Client) DeadLetterLen(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, KeyDeadLetter).Result()
	if err != nil {
		return 0, fmt.Errorf("dead-letter length: %w", err)
	}
	return n, nil
}

func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	s, err := c.getString(ctx, key)
	if err != nil || s == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}

func (c *Client) GetFloat(ctx context.Context, key string) (float64, error) {
	s, err := c.getString(ctx, key)
	if err != nil || s == "" {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return f, nil
}

func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.getString(ctx, key)
}

func (c *Client) getString(ctx context.Context, key string) (string, error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return s, nil
}

func (c *Client) SetInt(ctx context.Context, key string, v int64) error {
	return c.set(ctx, key, strconv.FormatInt(v, 10))
}

func (c *Client) SetFloat(ctx context.Context, key string, v float64) error {
	return c.set(ctx, key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (c *Client) SetString(ctx context.Context, key, v string) error {
	return c.set(ctx, key, v)
}

func (c *Client) set(ctx context.Context, key, v string) error {
	if err := c.rdb.Set(ctx, key, v, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *Client) IncrBy(ctx context.Context, key string, n int64) error {
	if err := c.rdb.IncrBy(ctx, key, n).Err(); err != nil {
		return fmt.Errorf("incr %s: %w", key, err)
	}
	return nil
}

// EnsureCounter initializes a counter to zero if it does not exist yet.
func (c *Client) EnsureCounter(ctx context.Context, key string) error {
	if err := c.rdb.SetNX(ctx, key, "0", 0).Err(); err != nil {
		return fmt.Errorf("init %s: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete %v: %w", keys, err)
	}
	return nil
}

func (c *Client) PublishEvent(ctx context.Context, ev events.PersistenceEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode persistence event: %w", err)
	}
	if err := c.rdb.Publish(ctx, ChannelBatchNotifications, raw).Err(); err != nil {
		return fmt.Errorf("publish persistence event: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated subscription to the batch notification channel.
// It waits for the subscription to be confirmed before returning, so events
// published after Subscribe returns are guaranteed to be delivered. The
// returned cancel func closes the subscription and the channel.
func (c *Client) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	sub := c.rdb.Subscribe(ctx, ChannelBatchNotifications)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", ChannelBatchNotifications, err)
	}

	out := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-done:
				// Receiver is gone; unblock so the goroutine can drain out.
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return out, cancel, nil
}
