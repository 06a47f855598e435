package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxContentLength caps message content at the ingest boundary.
const MaxContentLength = 2000

// Message is the unit of ingestion. It is encoded as a self-describing JSON
// record on the buffer list and immutable once enqueued.
type Message struct {
	TrackingID string    `json:"tracking_id"`
	UserID     int       `json:"user_id"`
	ChannelID  int       `json:"channel_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the fields a producer must supply.
func (m Message) Validate() error {
	if m.UserID <= 0 {
		return errors.New("user_id must be a positive integer")
	}
	if m.ChannelID <= 0 {
		return errors.New("channel_id must be a positive integer")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(m.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}
	return nil
}

// Encode serializes the message for the buffer list.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a buffer entry back into a Message. Entries that fail here
// are discarded by the coordinator without affecting the batch timer.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode buffer entry: %w", err)
	}
	if m.TrackingID == "" {
		return Message{}, errors.New("buffer entry missing tracking_id")
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	if m.CreatedAt.IsZero() {
		slog.Warn("buffer entry missing created_at, using current time", "tracking_id", m.TrackingID)
		m.CreatedAt = time.Now().UTC()
	}
	return m, nil
}

// NewTrackingID mints the opaque identifier returned to producers and carried
// through staging and persistence events. Short form of a v4 UUID, which is
// what correlating dashboards expect.
func NewTrackingID() string {
	return uuid.New().String()[:8]
}

// NewBatchID mints a fresh identifier per committed batch. Never reused.
func NewBatchID() string {
	return uuid.New().String()[:8]
}

// TypePersisted tags events published on the batch notification channel.
const TypePersisted = "persisted"

// PersistenceEvent is published on the pub/sub channel after a batch commits.
// The tracking ids are the same strings returned to producers at ingest.
type PersistenceEvent struct {
	Type      string    `json:"type"`
	BatchID   string    `json:"batch_id"`
	BatchSize int       `json:"batch_size"`
	IDs       []string  `json:"ids"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame type discriminators on the observer stream.
const (
	FrameStatsUpdate    = "stats_update"
	FrameBatchPersisted = "batch_persisted"
)

// StatsUpdate is the periodic snapshot frame sent to every observer.
type StatsUpdate struct {
	Type                 string    `json:"type"`
	TotalMessages        int64     `json:"total_messages"`
	CurrentRPS           float64   `json:"current_rps"`
	QueueDepth           int64     `json:"queue_depth"`
	TotalBatches         int64     `json:"total_batches"`
	AvgBatchSize         float64   `json:"avg_batch_size"`
	BatchThreshold       int       `json:"batch_threshold"`
	BatchProgress        int64     `json:"batch_progress"`
	BatchProgressPercent float64   `json:"batch_progress_percent"`
	Timestamp            time.Time `json:"timestamp"`
}

// BatchPersisted is the event-driven frame forwarding a persistence event to
// an observer. It is never coalesced with stats frames.
type BatchPersisted struct {
	Type            string    `json:"type"`
	BatchID         string    `json:"batch_id"`
	IDs             []string  `json:"ids"`
	BatchSize       int       `json:"batch_size"`
	WorkerTimestamp time.Time `json:"worker_timestamp"`
}
