package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

const defaultWriteTimeout = 5 * time.Second

type Config struct {
	Interval     time.Duration
	BatchSize    int
	WriteTimeout time.Duration
}

// Broadcaster multiplexes the periodic stats snapshot and the persistence
// event stream onto each connected observer's websocket. Every session owns
// its own subscription and ticker.
type Broadcaster struct {
	buf          buffer.Buffer
	interval     time.Duration
	batchSize    int
	writeTimeout time.Duration
}

func New(buf buffer.Buffer, cfg Config) *Broadcaster {
	wt := cfg.WriteTimeout
	if wt == 0 {
		wt = defaultWriteTimeout
	}
	return &Broadcaster{
		buf:          buf,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		writeTimeout: wt,
	}
}

// ServeSession runs one observer session until the client disconnects, the
// context is cancelled, or a write misses its deadline. The subscription is
// established before the first stats frame so no publication is missed
// during hand-off.
func (b *Broadcaster) ServeSession(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifications, unsubscribe, err := b.buf.Subscribe(sctx)
	if err != nil {
		// Degrade to stats-only; the client reconciles through GET /messages.
		slog.Warn("subscription failed, session is stats-only", "error", err)
	} else {
		defer unsubscribe()
	}

	// Surface client disconnect. Observers never send frames we care about.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	slog.Info("observer connected")

	// Immediate snapshot so a fresh observer does not wait out the first tick.
	if err := b.write(conn, b.statsFrame(sctx)); err != nil {
		slog.Info("terminating stalled observer session", "error", err)
		return
	}
	for {
		select {
		case <-sctx.Done():
			slog.Info("observer session closed")
			return

		case raw, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			frame, err := b.persistedFrame(raw)
			if err != nil {
				slog.Warn("discarding malformed batch notification", "error", err)
				continue
			}
			// Forwarded promptly, never coalesced with stats frames.
			if err := b.write(conn, frame); err != nil {
				slog.Info("terminating stalled observer session", "error", err)
				return
			}

		case <-ticker.C:
			if err := b.write(conn, b.statsFrame(sctx)); err != nil {
				slog.Info("terminating stalled observer session", "error", err)
				return
			}
		}
	}
}

// write sends one frame under the session's write deadline. A deadline miss
// fails the write and terminates the session rather than silently dropping
// frames.
func (b *Broadcaster) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// statsFrame assembles a snapshot from the metrics store. Missing keys and
// read failures both read as zero so a cold store still yields a frame.
func (b *Broadcaster) statsFrame(ctx context.Context) events.StatsUpdate {
	totalMessages := b.readInt(ctx, buffer.KeyTotalMessages)
	totalBatches := b.readInt(ctx, buffer.KeyTotalBatches)
	currentRPS := b.readFloat(ctx, buffer.KeyCurrentRPS)
	workerBuffer := b.readInt(ctx, buffer.KeyWorkerBufferSize)

	bufferLen, err := b.buf.Len(ctx)
	if err != nil {
		slog.Debug("buffer length unavailable", "error", err)
		bufferLen = 0
	}

	var avgBatchSize float64
	if totalBatches > 0 {
		avgBatchSize = float64(totalMessages) / float64(totalBatches)
	}
	var progressPercent float64
	if b.batchSize > 0 {
		progressPercent = 100 * float64(workerBuffer) / float64(b.batchSize)
	}

	return events.StatsUpdate{
		Type:                 events.FrameStatsUpdate,
		TotalMessages:        totalMessages,
		CurrentRPS:           round1(currentRPS),
		QueueDepth:           bufferLen + workerBuffer,
		TotalBatches:         totalBatches,
		AvgBatchSize:         round1(avgBatchSize),
		BatchThreshold:       b.batchSize,
		BatchProgress:        workerBuffer,
		BatchProgressPercent: round1(progressPercent),
		Timestamp:            time.Now().UTC(),
	}
}

// persistedFrame converts a raw batch notification into the observer frame.
func (b *Broadcaster) persistedFrame(raw []byte) (events.BatchPersisted, error) {
	var ev events.PersistenceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return events.BatchPersisted{}, fmt.Errorf("decode batch notification: %w", err)
	}
	if ev.Type != events.TypePersisted {
		return events.BatchPersisted{}, fmt.Errorf("unexpected notification type %q", ev.Type)
	}
	return events.BatchPersisted{
		Type:            events.FrameBatchPersisted,
		BatchID:         ev.BatchID,
		IDs:             ev.IDs,
		BatchSize:       ev.BatchSize,
		WorkerTimestamp: ev.Timestamp,
	}, nil
}

func (b *Broadcaster) readInt(ctx context.Context, key string) int64 {
	v, err := b.buf.GetInt(ctx, key)
	if err != nil {
		slog.Debug("counter unavailable", "key", key, "error", err)
		return 0
	}
	return v
}

func (b *Broadcaster) readFloat(ctx context.Context, key string) float64 {
	v, err := b.buf.GetFloat(ctx, key)
	if err != nil {
		slog.Debug("counter unavailable", "key", key, "error", err)
		return 0
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
