package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

// afterCommit runs the post-transaction bookkeeping: counters, throughput and
// latency metrics, id lifecycle tracking, and the persistence event. Counter
// increments become visible before or concurrently with the publish; the
// batch identity in the event is authoritative either way. Failures here are
// logged and never undo the commit.
func (c *Coordinator) afterCommit(ctx context.Context, batch []events.Message) {
	committedAt := time.Now().UTC()
	batchID := events.NewBatchID()

	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.TrackingID
	}

	if err := c.buf.IncrBy(ctx, buffer.KeyTotalMessages, int64(len(batch))); err != nil {
		slog.Warn("failed to increment total_messages", "error", err)
	}
	if err := c.buf.IncrBy(ctx, buffer.KeyTotalBatches, 1); err != nil {
		slog.Warn("failed to increment total_batches", "error", err)
	}

	rps := c.estimator.Observe(len(batch), committedAt)
	if err := c.buf.SetFloat(ctx, buffer.KeyCurrentRPS, rps); err != nil {
		slog.Warn("failed to update current_rps", "error", err)
	}

	if stats, ok := c.latency.Observe(batch, committedAt); ok {
		for key, v := range map[string]float64{
			buffer.KeyAvgLatencyMS: stats.AvgMS,
			buffer.KeyP95LatencyMS: stats.P95MS,
			buffer.KeyP99LatencyMS: stats.P99MS,
		} {
			if err := c.buf.SetFloat(ctx, key, v); err != nil {
				slog.Warn("failed to update latency metric", "key", key, "error", err)
			}
		}
	}

	if err := c.buf.MarkPersisted(ctx, ids); err != nil {
		slog.Warn("failed to record persisted ids", "error", err)
	}
	if err := c.buf.SetString(ctx, buffer.KeyLastBatchID, batchID); err != nil {
		slog.Warn("failed to record last batch id", "error", err)
	}
	if err := c.buf.SetInt(ctx, buffer.KeyLastBatchSize, int64(len(batch))); err != nil {
		slog.Warn("failed to record last batch size", "error", err)
	}
	if err := c.buf.SetString(ctx, buffer.KeyLastBatchTime, committedAt.Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record last batch time", "error", err)
	}

	ev := events.PersistenceEvent{
		Type:      events.TypePersisted,
		BatchID:   batchID,
		BatchSize: len(batch),
		IDs:       ids,
		Timestamp: committedAt,
	}
	if err := c.buf.PublishEvent(ctx, ev); err != nil {
		// The commit is already durable; observers reconcile missed events
		// through the persisted read endpoint.
		slog.Warn("failed to publish persistence event", "batch_id", batchID, "error", err)
	}

	slog.Info("batch committed",
		"batch_id", batchID,
		"count", len(batch),
		"rps", rps,
	)
}
