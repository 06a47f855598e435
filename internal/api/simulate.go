package api

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

const maxSimulationCount = 10000

// sampleContents feeds the burst simulator with plausible chat traffic.
var sampleContents = []string{
	"Hey everyone! How's it going?",
	"Just pushed the latest changes to main",
	"Can someone review my PR when they get a chance?",
	"The new feature is looking great!",
	"Anyone up for a quick sync?",
	"Just deployed to staging, testing now",
	"Found a bug in the auth flow, fixing it",
	"Great work on the dashboard!",
	"Need help with the API integration",
	"The tests are passing now",
	"Updated the docs with the new endpoints",
	"Server's running smoothly",
	"Quick question about the database schema",
	"Just finished the code review",
	"Working on the performance optimization",
	"The metrics look good today",
	"Anyone seen this error before?",
	"Fixed the memory leak issue",
	"Ready for the demo tomorrow",
	"Just merged the feature branch",
	"Need to update the dependencies",
	"The pipeline is running faster now",
	"Check out the new monitoring dashboard",
	"Debugging the WebSocket connection",
	"The batch processing is working well",
	"Added more logging for debugging",
	"Optimized the database queries",
	"The cache hit rate improved",
	"Rolling back the last deployment",
	"All systems operational",
	"Investigating the latency spike",
	"The load balancer is configured correctly",
	"Scaling up the worker instances",
	"The queue is draining nicely",
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Count int `json:"count"`
	}{Count: 500}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "invalid_payload",
				"detail": "request body must be JSON",
			})
			return
		}
	}
	if req.Count < 1 || req.Count > maxSimulationCount {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid_payload",
			"detail": "count must be between 1 and 10000",
		})
		return
	}

	payloads := make([][]byte, 0, req.Count)
	trackingIDs := make([]string, 0, req.Count)
	now := time.Now().UTC()
	for i := 0; i < req.Count; i++ {
		msg := events.Message{
			TrackingID: events.NewTrackingID(),
			UserID:     rand.Intn(10000) + 1,
			ChannelID:  rand.Intn(100) + 1,
			Content:    sampleContents[rand.Intn(len(sampleContents))],
			CreatedAt:  now,
		}
		raw, err := msg.Encode()
		if err != nil {
			slog.Error("encode simulated message failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		payloads = append(payloads, raw)
		trackingIDs = append(trackingIDs, msg.TrackingID)
	}

	if err := s.buf.PushBatch(r.Context(), payloads, trackingIDs); err != nil {
		slog.Error("simulation push failed", "error", err, "count", req.Count)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "upstream_unavailable"})
		return
	}

	queueLen, _ := s.buf.Len(r.Context())
	slog.Info("burst simulation queued", "count", req.Count, "queue_length", queueLen)

	// The batch hints describe this burst alone, independent of whatever was
	// already queued or being drained.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":                    "simulation_started",
		"messages_count":            req.Count,
		"tracking_ids":              trackingIDs,
		"current_queue":             queueLen,
		"batch_threshold":           s.batchSize,
		"expected_complete_batches": req.Count / s.batchSize,
		"expected_remaining_queued": req.Count % s.batchSize,
	})
}
