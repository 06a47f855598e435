package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/ingestor/internal/broadcast"
	"github.com/MikeSquared-Agency/ingestor/internal/buffer"
	"github.com/MikeSquared-Agency/ingestor/internal/events"
	"github.com/MikeSquared-Agency/ingestor/internal/store"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	maxQueuedIDsShown  = 100
)

type Server struct {
	buf         buffer.Buffer
	store       store.DataStore
	broadcaster *broadcast.Broadcaster
	router      chi.Router
	port        int
	batchSize   int
}

func NewServer(buf buffer.Buffer, s store.DataStore, b *broadcast.Broadcaster, port, batchSize int) *Server {
	srv := &Server{
		buf:         buf,
		store:       s,
		broadcaster: b,
		port:        port,
		batchSize:   batchSize,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/", srv.handleRoot)
	r.Post("/messages", srv.handleCreateMessage)
	r.Get("/messages", srv.handleRecentMessages)
	r.Post("/simulate", srv.handleSimulate)
	r.Get("/health", srv.handleHealth)
	r.Get("/queue/status", srv.handleQueueStatus)
	r.Delete("/reset", srv.handleReset)
	r.Get("/ws/stats", srv.handleStatsSocket)

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "message-ingestor",
		"status":  "running",
		"batch_config": map[string]any{
			"batch_size": s.batchSize,
		},
		"endpoints": map[string]string{
			"POST /messages":    "Submit a new message to the queue",
			"POST /simulate":    "Run burst simulation with configurable count",
			"GET /messages":     "Get last N persisted messages",
			"GET /health":       "Health check endpoint",
			"GET /queue/status": "Current queue status and pending messages",
			"DELETE /reset":     "Clear persisted messages and the queue",
			"WS /ws/stats":      "WebSocket for real-time stats and batch events",
		},
	})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    int    `json:"user_id"`
		ChannelID int    `json:"channel_id"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid_payload",
			"detail": "request body must be JSON",
		})
		return
	}

	msg := events.Message{
		TrackingID: events.NewTrackingID(),
		UserID:     req.UserID,
		ChannelID:  req.ChannelID,
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid_payload",
			"detail": err.Error(),
		})
		return
	}

	raw, err := msg.Encode()
	if err != nil {
		slog.Error("encode message failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if err := s.buf.Push(r.Context(), raw, msg.TrackingID); err != nil {
		slog.Error("buffer push failed", "error", err, "tracking_id", msg.TrackingID)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "upstream_unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "queued",
		"tracking_id": msg.TrackingID,
		"queued_at":   msg.CreatedAt,
	})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := s.store.RecentMessages(r.Context(), limit)
	if err != nil {
		slog.Error("query recent messages failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": rows,
		"count":    len(rows),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.buf.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"buffer": "disconnected",
		})
		return
	}

	queueLen, _ := s.buf.Len(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"buffer":       "connected",
		"queue_length": queueLen,
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queueLen, err := s.buf.Len(ctx)
	if err != nil {
		slog.Error("queue status failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "upstream_unavailable"})
		return
	}

	workerBuffer, _ := s.buf.GetInt(ctx, buffer.KeyWorkerBufferSize)

	// Absent means the coordinator's staging area is empty.
	var batchStart *float64
	if raw, _ := s.buf.GetString(ctx, buffer.KeyBatchStartTime); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			batchStart = &v
		}
	}

	queuedIDs, _ := s.buf.QueuedIDs(ctx, maxQueuedIDsShown)
	deadLetters, _ := s.buf.DeadLetterLen(ctx)

	lastBatchID, _ := s.buf.GetString(ctx, buffer.KeyLastBatchID)
	lastBatchSize, _ := s.buf.GetInt(ctx, buffer.KeyLastBatchSize)
	lastBatchTime, _ := s.buf.GetString(ctx, buffer.KeyLastBatchTime)

	writeJSON(w, http.StatusOK, map[string]any{
		"buffer_length":      queueLen,
		"worker_buffer_size": workerBuffer,
		"batch_start_time":   batchStart,
		"batch_threshold":    s.batchSize,
		"queued_message_ids": queuedIDs,
		"dead_letter_length": deadLetters,
		"last_batch": map[string]any{
			"batch_id":     lastBatchID,
			"size":         lastBatchSize,
			"completed_at": lastBatchTime,
		},
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteAll(r.Context())
	if err != nil {
		slog.Error("reset: delete messages failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
		return
	}

	cleared, err := s.buf.Drain(r.Context())
	if err != nil {
		slog.Error("reset: drain buffer failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "upstream_unavailable"})
		return
	}

	slog.Info("reset completed", "deleted_messages", deleted, "cleared_queue", cleared)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_messages": deleted,
		"cleared_queue":    cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
