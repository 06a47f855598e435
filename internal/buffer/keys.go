package buffer

// Key layout on the metrics store. The coordinator is the single writer for
// every scalar key; the broadcaster and API only read them.
const (
	// KeyPending is the shared buffer list between ingest and the coordinator.
	// Enqueue is LPUSH, the coordinator consumes with BRPOP (FIFO).
	KeyPending = "pending_messages"

	// Lifecycle-tracking lists for dashboards.
	KeyQueuedIDs    = "queued_message_ids"
	KeyPersistedIDs = "persisted_message_ids"

	// KeyDeadLetter receives batches whose commit and re-queue both failed.
	KeyDeadLetter = "dead_letter_messages"

	// Counters written by the coordinator after each commit.
	KeyTotalMessages = "total_messages"
	KeyTotalBatches  = "total_batches"
	KeyCurrentRPS    = "current_rps"

	// Staging-area visibility: size of the coordinator's in-memory buffer and
	// the epoch instant the current batch started (absent when staging is empty).
	KeyWorkerBufferSize = "worker_buffer_size"
	KeyBatchStartTime   = "batch_start_time"

	// Last committed batch, for /queue/status.
	KeyLastBatchID   = "last_batch_id"
	KeyLastBatchSize = "last_batch_size"
	KeyLastBatchTime = "last_batch_time"

	// Rolling end-to-end latency statistics.
	KeyAvgLatencyMS = "avg_latency_ms"
	KeyP95LatencyMS = "p95_latency_ms"
	KeyP99LatencyMS = "p99_latency_ms"

	// ChannelBatchNotifications carries persistence events to observers.
	ChannelBatchNotifications = "batch_notifications"
)

// Retention bounds on the id-tracking lists.
const (
	queuedIDsKeep    = 1000
	persistedIDsKeep = 200
)
