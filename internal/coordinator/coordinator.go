package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/events"
	"github.com/MikeSquared-Agency/ingestor/internal/store"
)

const (
	// defaultPopTimeout bounds how long a pop blocks when no deadline is
	// nearer, so shutdown and the time trigger are always served.
	defaultPopTimeout  = time.Second
	minPopTimeout      = 50 * time.Millisecond
	commitRetryBackoff = 500 * time.Millisecond
)

type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	RPSWindow    time.Duration
}

// Coordinator is the single consumer of the buffer list. It stages popped
// messages in memory, flushes them to the relational store when either the
// volume or the time trigger fires, and publishes a persistence event per
// committed batch. Exactly one instance runs per deployment; staging is only
// touched from the run loop.
type Coordinator struct {
	store        store.DataStore
	buf          buffer.Buffer
	batchSize    int
	batchTimeout time.Duration
	estimator    *Estimator
	latency      *LatencyTracker

	staging    []events.Message
	batchStart time.Time // zero while staging is empty

	done chan struct{}
}

func New(s store.DataStore, b buffer.Buffer, cfg Config) *Coordinator {
	return &Coordinator{
		store:        s,
		buf:          b,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		estimator:    NewEstimator(cfg.RPSWindow),
		latency:      NewLatencyTracker(),
		staging:      make([]events.Message, 0, cfg.BatchSize),
		done:         make(chan struct{}),
	}
}

// Start launches the consume loop.
func (c *Coordinator) Start(ctx context.Context) {
	go c.run(ctx)
}

// Wait blocks until the coordinator has completed its final flush.
func (c *Coordinator) Wait() {
	<-c.done
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	c.initCounters(ctx)
	slog.Info("batch coordinator started",
		"batch_size", c.batchSize,
		"batch_timeout", c.batchTimeout,
	)

	for {
		if ctx.Err() != nil {
			if len(c.staging) > 0 {
				slog.Info("flushing staged messages before shutdown", "count", len(c.staging))
				c.flush(context.Background())
			}
			slog.Info("batch coordinator stopped")
			return
		}
		c.step(ctx)
	}
}

// step performs one loop iteration: flush if a trigger is due, otherwise
// block on a pop no longer than the remaining time until the time trigger.
func (c *Coordinator) step(ctx context.Context) {
	if c.shouldFlush() {
		c.flush(ctx)
		return
	}

	timeout := defaultPopTimeout
	if len(c.staging) > 0 {
		if remaining := c.batchTimeout - time.Since(c.batchStart); remaining < timeout {
			timeout = remaining
		}
		if timeout < minPopTimeout {
			timeout = minPopTimeout
		}
	}

	raw, err := c.buf.PopWait(ctx, timeout)
	switch {
	case errors.Is(err, buffer.ErrEmpty):
		// Nothing arrived; the flush check below serves the time trigger.
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		slog.Error("buffer pop failed", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	default:
		c.stage(ctx, raw)
	}

	if c.shouldFlush() {
		c.flush(ctx)
	}
}

// stage decodes a buffer entry into the staging area. Malformed entries are
// discarded and do not affect the batch timer.
func (c *Coordinator) stage(ctx context.Context, raw []byte) {
	msg, err := events.Decode(raw)
	if err != nil {
		slog.Warn("discarding malformed buffer entry", "error", err)
		return
	}

	// The timer anchors on the first message of the batch and is never
	// advanced by later arrivals.
	if len(c.staging) == 0 {
		c.batchStart = time.Now()
	}
	c.staging = append(c.staging, msg)
	c.publishVisibility(ctx)

	slog.Debug("message staged",
		"tracking_id", msg.TrackingID,
		"staged", len(c.staging),
		"threshold", c.batchSize,
	)
}

func (c *Coordinator) shouldFlush() bool {
	if len(c.staging) >= c.batchSize {
		return true
	}
	return len(c.staging) > 0 && time.Since(c.batchStart) >= c.batchTimeout
}

// flush commits the staged batch: copy out, reset staging and the timer,
// publish visibility, then run the transactional insert with one retry.
// Repeated failure re-queues the batch at the head of the buffer list;
// if even that fails the batch goes to the dead-letter list.
func (c *Coordinator) flush(ctx context.Context) {
	if len(c.staging) == 0 {
		return
	}

	batch := c.staging
	c.staging = make([]events.Message, 0, c.batchSize)
	c.batchStart = time.Time{}
	c.publishVisibility(ctx)

	slog.Info("flushing batch", "count", len(batch))

	err := c.store.InsertBatch(ctx, batch)
	if err != nil {
		slog.Error("batch insert failed, retrying once", "error", err, "count", len(batch))
		select {
		case <-time.After(commitRetryBackoff):
		case <-ctx.Done():
		}
		err = c.store.InsertBatch(ctx, batch)
	}
	if err != nil {
		slog.Error("batch insert failed after retry, re-queueing", "error", err, "count", len(batch))
		c.requeue(ctx, batch)
		return
	}

	c.afterCommit(ctx, batch)
}

func (c *Coordinator) requeue(ctx context.Context, batch []events.Message) {
	payloads := make([][]byte, 0, len(batch))
	for _, m := range batch {
		raw, err := m.Encode()
		if err != nil {
			slog.Error("failed to re-encode message for re-queue", "tracking_id", m.TrackingID, "error", err)
			continue
		}
		payloads = append(payloads, raw)
	}

	if err := c.buf.PushFront(ctx, payloads); err != nil {
		slog.Error("re-queue failed, routing batch to dead-letter list", "error", err, "count", len(payloads))
		if dlErr := c.buf.DeadLetter(ctx, payloads); dlErr != nil {
			slog.Error("dead-letter push failed, dropping batch", "error", dlErr, "count", len(payloads))
		}
		return
	}
	slog.Warn("re-queued failed batch at buffer head", "count", len(payloads))
}

// publishVisibility mirrors the staging area onto the metrics store after
// every size change so queue depth stays observable end to end.
func (c *Coordinator) publishVisibility(ctx context.Context) {
	if err := c.buf.SetInt(ctx, buffer.KeyWorkerBufferSize, int64(len(c.staging))); err != nil {
		slog.Warn("failed to update worker_buffer_size", "error", err)
	}
	if c.batchStart.IsZero() {
		if err := c.buf.Delete(ctx, buffer.KeyBatchStartTime); err != nil {
			slog.Warn("failed to clear batch_start_time", "error", err)
		}
		return
	}
	epoch := float64(c.batchStart.UnixNano()) / float64(time.Second)
	if err := c.buf.SetFloat(ctx, buffer.KeyBatchStartTime, epoch); err != nil {
		slog.Warn("failed to update batch_start_time", "error", err)
	}
}

func (c *Coordinator) initCounters(ctx context.Context) {
	for _, key := range []string{
		buffer.KeyTotalMessages,
		buffer.KeyTotalBatches,
		buffer.KeyCurrentRPS,
		buffer.KeyWorkerBufferSize,
	} {
		if err := c.buf.EnsureCounter(ctx, key); err != nil {
			slog.Warn("failed to initialize counter", "key", key, "error", err)
		}
	}
}
