package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
	"github.com/MikeSquared-Agency/ingestor/internal/store"
)

// ErrTransientInsert is returned while FailInserts is positive.
var ErrTransientInsert = errors.New("transient insert failure")

// MockStore is a thread-safe in-memory implementation of store.DataStore.
type MockStore struct {
	mu sync.Mutex

	Rows    []store.StoredMessage
	Batches [][]events.Message
	nextID  int64

	InsertErr   error // every InsertBatch call fails
	FailInserts int   // fail this many InsertBatch calls, then succeed
	RecentErr   error
	DeleteErr   error
	PingErr     error

	InsertCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) InsertBatch(_ context.Context, msgs []events.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.FailInserts > 0 {
		m.FailInserts--
		return ErrTransientInsert
	}
	if m.InsertErr != nil {
		return m.InsertErr
	}
	batch := make([]events.Message, len(msgs))
	copy(batch, msgs)
	m.Batches = append(m.Batches, batch)
	for _, msg := range msgs {
		m.nextID++
		m.Rows = append(m.Rows, store.StoredMessage{
			ID:         m.nextID,
			UserID:     msg.UserID,
			ChannelID:  msg.ChannelID,
			Content:    msg.Content,
			CreatedAt:  msg.CreatedAt,
			InsertedAt: time.Now().UTC(),
		})
	}
	return nil
}

func (m *MockStore) RecentMessages(_ context.Context, limit int) ([]store.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	results := make([]store.StoredMessage, 0, limit)
	for i := len(m.Rows) - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, m.Rows[i])
	}
	return results, nil
}

func (m *MockStore) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	n := int64(len(m.Rows))
	m.Rows = nil
	return n, nil
}

func (m *MockStore) CountMessages(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Rows)), nil
}

func (m *MockStore) Ping(_ context.Context) error {
	return m.PingErr
}

func (m *MockStore) Close() {}

// GetInsertCalls returns how many times InsertBatch was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}

// RowCount returns the number of persisted rows.
func (m *MockStore) RowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Rows)
}

// BatchSizes returns the size of every committed batch in commit order.
func (m *MockStore) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.Batches))
	for i, b := range m.Batches {
		sizes[i] = len(b)
	}
	return sizes
}

// SeedRows inserts rows directly, bypassing the batch path.
func (m *MockStore) SeedRows(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.nextID++
		m.Rows = append(m.Rows, store.StoredMessage{
			ID:         m.nextID,
			UserID:     1,
			ChannelID:  1,
			Content:    "seeded",
			CreatedAt:  time.Now().UTC(),
			InsertedAt: time.Now().UTC(),
		})
	}
}
