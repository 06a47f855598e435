package testutil

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

// FakeBuffer is a thread-safe in-memory implementation of buffer.Buffer.
// pending[0] is the next entry popped.
type FakeBuffer struct {
	mu sync.Mutex

	pending      [][]byte
	queuedIDs    []string
	persistedIDs []string
	deadLetter   [][]byte
	counters     map[string]string
	subs         []chan []byte

	Published []events.PersistenceEvent

	PingErr      error
	PushErr      error
	PopErr       error
	PushFrontErr error
	DeadErr      error
	PublishErr   error
}

func NewFakeBuffer() *FakeBuffer {
	return &FakeBuffer{counters: make(map[string]string)}
}

func (f *FakeBuffer) Ping(_ context.Context) error { return f.PingErr }

func (f *FakeBuffer) Close() error { return nil }

func (f *FakeBuffer) Push(_ context.Context, payload []byte, trackingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushErr != nil {
		return f.PushErr
	}
	f.pending = append(f.pending, payload)
	f.queuedIDs = append([]string{trackingID}, f.queuedIDs...)
	return nil
}

func (f *FakeBuffer) PushBatch(ctx context.Context, payloads [][]byte, trackingIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushErr != nil {
		return f.PushErr
	}
	f.pending = append(f.pending, payloads...)
	for _, id := range trackingIDs {
		f.queuedIDs = append([]string{id}, f.queuedIDs...)
	}
	return nil
}

func (f *FakeBuffer) PushFront(_ context.Context, payloads [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushFrontErr != nil {
		return f.PushFrontErr
	}
	front := make([][]byte, len(payloads))
	copy(front, payloads)
	f.pending = append(front, f.pending...)
	return nil
}

func (f *FakeBuffer) PopWait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		if f.PopErr != nil {
			err := f.PopErr
			f.mu.Unlock()
			return nil, err
		}
		if len(f.pending) > 0 {
			entry := f.pending[0]
			f.pending = f.pending[1:]
			f.mu.Unlock()
			return entry, nil
		}
		f.mu.Unlock()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, buffer.ErrEmpty
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *FakeBuffer) Len(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

func (f *FakeBuffer) Drain(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.pending))
	f.pending = nil
	f.queuedIDs = nil
	f.persistedIDs = nil
	return n, nil
}

func (f *FakeBuffer) QueuedIDs(_ context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.queuedIDs) {
		limit = len(f.queuedIDs)
	}
	out := make([]string, limit)
	copy(out, f.queuedIDs[:limit])
	return out, nil
}

func (f *FakeBuffer) MarkPersisted(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.persistedIDs = append([]string{id}, f.persistedIDs...)
		for i, q := range f.queuedIDs {
			if q == id {
				f.queuedIDs = append(f.queuedIDs[:i], f.queuedIDs[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *FakeBuffer) DeadLetter(_ context.Context, payloads [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeadErr != nil {
		return f.DeadErr
	}
	f.deadLetter = append(f.deadLetter, payloads...)
	return nil
}

func (f *FakeBuffer) DeadLetterLen(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.deadLetter)), nil
}

func (f *FakeBuffer) GetInt(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.counters[key]
	if !ok || s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func (f *FakeBuffer) GetFloat(_ context.Context, key string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.counters[key]
	if !ok || s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (f *FakeBuffer) GetString(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[key], nil
}

func (f *FakeBuffer) SetInt(_ context.Context, key string, v int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key] = strconv.FormatInt(v, 10)
	return nil
}

func (f *FakeBuffer) SetFloat(_ context.Context, key string, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key] = strconv.FormatFloat(v, 'f', -1, 64)
	return nil
}

func (f *FakeBuffer) SetString(_ context.Context, key, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key] = v
	return nil
}

func (f *FakeBuffer) IncrBy(_ context.Context, key string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, _ := strconv.ParseInt(f.counters[key], 10, 64)
	f.counters[key] = strconv.FormatInt(cur+n, 10)
	return nil
}

func (f *FakeBuffer) EnsureCounter(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.counters[key]; !ok {
		f.counters[key] = "0"
	}
	return nil
}

func (f *FakeBuffer) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.counters, k)
	}
	return nil
}

func (f *FakeBuffer) PublishEvent(_ context.Context, ev events.PersistenceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.Published = append(f.Published, ev)
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for _, ch := range f.subs {
		select {
		case ch <- raw:
		default:
		}
	}
	return nil
}

func (f *FakeBuffer) Subscribe(_ context.Context) (<-chan []byte, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 16)
	f.subs = append(f.subs, ch)
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subs {
			if sub == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// PendingLen returns the number of entries waiting on the buffer list.
func (f *FakeBuffer) PendingLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Counter returns the raw stored value for a key ("" when absent).
func (f *FakeBuffer) Counter(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[key]
}

// HasKey reports whether a counter key exists at all.
func (f *FakeBuffer) HasKey(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.counters[key]
	return ok
}

// PublishedEvents returns a copy of every persistence event published so far.
func (f *FakeBuffer) PublishedEvents() []events.PersistenceEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.PersistenceEvent, len(f.Published))
	copy(out, f.Published)
	return out
}

// PersistedIDs returns the persisted-id tracking list, newest first.
func (f *FakeBuffer) PersistedIDList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.persistedIDs))
	copy(out, f.persistedIDs)
	return out
}

// DeadLetterEntries returns the dead-letter payloads.
func (f *FakeBuffer) DeadLetterEntries() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.deadLetter))
	copy(out, f.deadLetter)
	return out
}
