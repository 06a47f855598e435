package coordinator

import (
	"sort"
	"time"

	"github.com/MikeSquared-Agency/ingestor/internal/events"
)

const latencySampleWindow = 100

// LatencyStats summarizes end-to-end latency after a commit. Avg covers the
// batch that just committed; the percentiles cover the rolling sample window.
type LatencyStats struct {
	AvgMS float64
	P95MS float64
	P99MS float64
}

// LatencyTracker keeps a bounded window of enqueue-to-commit latency samples.
type LatencyTracker struct {
	samples []float64
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{}
}

// Observe records the latency of every message in a committed batch and
// returns updated statistics. ok is false when the batch carried no usable
// timestamps.
func (t *LatencyTracker) Observe(batch []events.Message, committedAt time.Time) (LatencyStats, bool) {
	var batchLatencies []float64
	for _, m := range batch {
		if m.CreatedAt.IsZero() {
			continue
		}
		ms := committedAt.Sub(m.CreatedAt).Seconds() * 1000
		if ms < 0 {
			ms = 0
		}
		batchLatencies = append(batchLatencies, ms)
	}
	if len(batchLatencies) == 0 {
		return LatencyStats{}, false
	}

	t.samples = append(t.samples, batchLatencies...)
	if len(t.samples) > latencySampleWindow {
		t.samples = t.samples[len(t.samples)-latencySampleWindow:]
	}

	var sum float64
	for _, l := range batchLatencies {
		sum += l
	}

	sorted := make([]float64, len(t.samples))
	copy(sorted, t.samples)
	sort.Float64s(sorted)

	return LatencyStats{
		AvgMS: sum / float64(len(batchLatencies)),
		P95MS: percentile(sorted, 0.95),
		P99MS: percentile(sorted, 0.99),
	}, true
}

// percentile expects a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
