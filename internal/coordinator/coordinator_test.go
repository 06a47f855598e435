package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/events"
	"github.com/MikeSquared-Agency/ingestor/internal/testutil"
)

func newTestCoordinator(ms *testutil.MockStore, fb *testutil.FakeBuffer, batchSize int, timeout time.Duration) *Coordinator {
	return New(ms, fb, Config{
		BatchSize:    batchSize,
		BatchTimeout: timeout,
		RPSWindow:    10 * time.Second,
	})
}

func pushMessages(t *testing.T, fb *testutil.FakeBuffer, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		m := events.Message{
			TrackingID: fmt.Sprintf("trk-%03d", i),
			UserID:     i + 1,
			ChannelID:  1,
			Content:    fmt.Sprintf("message %d", i),
			CreatedAt:  time.Now().UTC(),
		}
		raw, err := m.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := fb.Push(ctx, raw, m.TrackingID); err != nil {
			t.Fatalf("push: %v", err)
		}
		ids[i] = m.TrackingID
	}
	return ids
}

func TestVolumeTrigger_FlushAtThreshold(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 5, time.Hour)
	ctx := context.Background()

	ids := pushMessages(t, fb, 5)
	for i := 0; i < 5; i++ {
		c.step(ctx)
	}

	if got := ms.GetInsertCalls(); got != 1 {
		t.Fatalf("expected 1 insert call, got %d", got)
	}
	if sizes := ms.BatchSizes(); len(sizes) != 1 || sizes[0] != 5 {
		t.Errorf("expected one batch of 5, got %v", sizes)
	}
	if fb.PendingLen() != 0 {
		t.Errorf("expected empty buffer, got %d", fb.PendingLen())
	}

	// Counters advanced by exactly the batch size.
	if got := fb.Counter(buffer.KeyTotalMessages); got != "5" {
		t.Errorf("expected total_messages 5, got %q", got)
	}
	if got := fb.Counter(buffer.KeyTotalBatches); got != "1" {
		t.Errorf("expected total_batches 1, got %q", got)
	}

	// Visibility reset: staging empty iff batch_start_time absent.
	if got := fb.Counter(buffer.KeyWorkerBufferSize); got != "0" {
		t.Errorf("expected worker_buffer_size 0 after flush, got %q", got)
	}
	if fb.HasKey(buffer.KeyBatchStartTime) {
		t.Error("expected batch_start_time cleared after flush")
	}

	// The persistence event carries the same tracking ids handed to producers.
	published := fb.PublishedEvents()
	if len(published) != 1 {
		t.Fatalf("expected 1 persistence event, got %d", len(published))
	}
	ev := published[0]
	if ev.Type != events.TypePersisted {
		t.Errorf("expected type persisted, got %q", ev.Type)
	}
	if ev.BatchSize != 5 || len(ev.IDs) != 5 {
		t.Errorf("expected batch of 5 ids, got size %d ids %d", ev.BatchSize, len(ev.IDs))
	}
	if ev.BatchID == "" {
		t.Error("expected a batch id")
	}
	for i, id := range ids {
		if ev.IDs[i] != id {
			t.Errorf("id %d: expected %s, got %s", i, id, ev.IDs[i])
		}
	}
}

func TestTimeTrigger_FlushesPartialBatch(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 50, 150*time.Millisecond)
	ctx := context.Background()

	pushMessages(t, fb, 3)
	for i := 0; i < 3; i++ {
		c.step(ctx)
	}

	// Staged but not yet flushed: visibility reflects the staging area.
	if got := ms.GetInsertCalls(); got != 0 {
		t.Fatalf("expected no insert before timeout, got %d", got)
	}
	if got := fb.Counter(buffer.KeyWorkerBufferSize); got != "3" {
		t.Errorf("expected worker_buffer_size 3, got %q", got)
	}
	if !fb.HasKey(buffer.KeyBatchStartTime) {
		t.Error("expected batch_start_time set while staging non-empty")
	}

	time.Sleep(200 * time.Millisecond)
	c.step(ctx)

	if got := ms.GetInsertCalls(); got != 1 {
		t.Fatalf("expected 1 insert after timeout, got %d", got)
	}
	if sizes := ms.BatchSizes(); len(sizes) != 1 || sizes[0] != 3 {
		t.Errorf("expected one batch of 3, got %v", sizes)
	}
}

func TestTimeTrigger_AnchoredOnFirstMessage(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 50, 150*time.Millisecond)
	ctx := context.Background()

	// Messages keep arriving with gaps well under the timeout. The flush must
	// still happen relative to the FIRST message, not the latest arrival.
	pushMessages(t, fb, 1)
	c.step(ctx)

	for i := 0; i < 2; i++ {
		time.Sleep(60 * time.Millisecond)
		pushMessages(t, fb, 1)
		c.step(ctx)
	}

	time.Sleep(60 * time.Millisecond) // ~180ms since the first message
	c.step(ctx)

	if got := ms.GetInsertCalls(); got != 1 {
		t.Fatalf("expected flush anchored on first message, insert calls = %d", got)
	}
	if sizes := ms.BatchSizes(); len(sizes) != 1 || sizes[0] != 3 {
		t.Errorf("expected one batch of 3, got %v", sizes)
	}
}

func TestMalformedEntry_DiscardedWithoutTimerEffect(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 50, time.Hour)
	ctx := context.Background()

	if err := fb.Push(ctx, []byte("{not valid json"), "junk"); err != nil {
		t.Fatal(err)
	}
	c.step(ctx)

	if len(c.staging) != 0 {
		t.Fatalf("expected malformed entry discarded, staging = %d", len(c.staging))
	}
	if !c.batchStart.IsZero() {
		t.Error("expected timer untouched by malformed entry")
	}

	pushMessages(t, fb, 1)
	c.step(ctx)
	c.flush(ctx)

	if sizes := ms.BatchSizes(); len(sizes) != 1 || sizes[0] != 1 {
		t.Errorf("expected one batch of 1 valid message, got %v", sizes)
	}
}

func TestCommitRetry_SucceedsOnSecondAttempt(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.FailInserts = 1
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 2, time.Hour)
	ctx := context.Background()

	pushMessages(t, fb, 2)
	c.step(ctx)
	c.step(ctx)

	if got := ms.GetInsertCalls(); got != 2 {
		t.Fatalf("expected 2 insert calls (fail + retry), got %d", got)
	}
	if ms.RowCount() != 2 {
		t.Errorf("expected 2 persisted rows, got %d", ms.RowCount())
	}
	if fb.PendingLen() != 0 {
		t.Errorf("expected nothing re-queued, got %d", fb.PendingLen())
	}
	if len(fb.PublishedEvents()) != 1 {
		t.Errorf("expected 1 persistence event, got %d", len(fb.PublishedEvents()))
	}
}

func TestCommitFailure_RequeuesInOrder(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = errors.New("store down")
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 2, time.Hour)
	ctx := context.Background()

	ids := pushMessages(t, fb, 2)
	c.step(ctx)
	c.step(ctx)

	if got := ms.GetInsertCalls(); got != 2 {
		t.Fatalf("expected insert + retry, got %d calls", got)
	}
	if fb.PendingLen() != 2 {
		t.Fatalf("expected 2 re-queued entries, got %d", fb.PendingLen())
	}
	if len(fb.PublishedEvents()) != 0 {
		t.Error("expected no persistence event for a failed batch")
	}

	// Re-queued entries come back in their original order.
	for i, want := range ids {
		raw, err := fb.PopWait(ctx, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("pop re-queued entry %d: %v", i, err)
		}
		m, err := events.Decode(raw)
		if err != nil {
			t.Fatalf("decode re-queued entry %d: %v", i, err)
		}
		if m.TrackingID != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, m.TrackingID)
		}
	}
}

func TestRequeueFailure_RoutesToDeadLetter(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = errors.New("store down")
	fb := testutil.NewFakeBuffer()
	fb.PushFrontErr = errors.New("buffer down")
	c := newTestCoordinator(ms, fb, 2, time.Hour)
	ctx := context.Background()

	pushMessages(t, fb, 2)
	c.step(ctx)
	c.step(ctx)

	if fb.PendingLen() != 0 {
		t.Errorf("expected nothing re-queued, got %d", fb.PendingLen())
	}
	entries := fb.DeadLetterEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 dead-letter entries, got %d", len(entries))
	}
	if _, err := events.Decode(entries[0]); err != nil {
		t.Errorf("dead-letter entry not decodable: %v", err)
	}
}

func TestShutdown_FlushesStagedMessages(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 50, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	pushMessages(t, fb, 2)

	// Wait for both messages to be staged.
	deadline := time.Now().Add(2 * time.Second)
	for fb.Counter(buffer.KeyWorkerBufferSize) != "2" {
		if time.Now().After(deadline) {
			t.Fatal("messages never staged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	c.Wait()

	if sizes := ms.BatchSizes(); len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("expected final flush of 2, got %v", sizes)
	}
}

func TestStartupBacklog_FlushesRepeatedly(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 5, time.Hour)

	pushMessages(t, fb, 12)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	// Two full batches drain on the volume trigger alone.
	deadline := time.Now().Add(2 * time.Second)
	for ms.RowCount() < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("backlog never drained, rows = %d", ms.RowCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	c.Wait()

	// Shutdown flushed the remainder.
	if ms.RowCount() != 12 {
		t.Errorf("expected all 12 rows persisted, got %d", ms.RowCount())
	}
	sizes := ms.BatchSizes()
	if len(sizes) != 3 || sizes[0] != 5 || sizes[1] != 5 || sizes[2] != 2 {
		t.Errorf("expected batches [5 5 2], got %v", sizes)
	}
}

func TestFlush_EmptyStagingIsNoop(t *testing.T) {
	ms := testutil.NewMockStore()
	fb := testutil.NewFakeBuffer()
	c := newTestCoordinator(ms, fb, 5, time.Hour)

	c.flush(context.Background())
	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected no insert on empty staging, got %d", ms.GetInsertCalls())
	}
}
