package coordinator

import "time"

// Estimator maintains an O(1) sliding-window throughput estimate. On each
// committed batch the count grows; once the window has fully elapsed the rate
// is computed and both count and window start reset. Between resets an
// intermediate rate is reported without resetting state.
type Estimator struct {
	window      time.Duration
	count       int
	windowStart time.Time
}

func NewEstimator(window time.Duration) *Estimator {
	return &Estimator{
		window:      window,
		windowStart: time.Now(),
	}
}

// Observe records n committed messages and returns the current
// messages-per-second estimate. Called only from the coordinator loop.
func (e *Estimator) Observe(n int, now time.Time) float64 {
	e.count += n

	elapsed := now.Sub(e.windowStart)
	if elapsed >= e.window {
		rps := float64(e.count) / elapsed.Seconds()
		e.count = 0
		e.windowStart = now
		return rps
	}

	// Floor the divisor so a commit right after a reset does not explode.
	if elapsed < 100*time.Millisecond {
		elapsed = 100 * time.Millisecond
	}
	return float64(e.count) / elapsed.Seconds()
}
