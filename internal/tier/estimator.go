package tier

import (
	"sync"
	"time"
)

// ewmaAlpha is the smoothing factor for latency estimates. Recent samples
// dominate so the router adapts quickly to a degraded tier.
const ewmaAlpha = 0.3

// Estimator keeps a rolling per-tier latency estimate fed by every executor
// invocation, including timed-out ones. The router consults it to decide
// whether the remaining budget covers the next escalation.
type Estimator struct {
	mu   sync.Mutex
	ewma map[string]time.Duration
}

// NewEstimator creates an empty estimator.
func NewEstimator() *Estimator {
	return &Estimator{ewma: make(map[string]time.Duration)}
}

// Record feeds one latency sample for a tier.
func (e *Estimator) Record(tier string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.ewma[tier]
	if !ok {
		e.ewma[tier] = d
		return
	}
	e.ewma[tier] = time.Duration(ewmaAlpha*float64(d) + (1-ewmaAlpha)*float64(prev))
}

// Estimate returns the expected latency for a tier, or 0 when no sample has
// been recorded yet (the router then falls back to the configured timeout).
func (e *Estimator) Estimate(tier string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ewma[tier]
}

// Snapshot returns all current estimates for introspection.
func (e *Estimator) Snapshot() map[string]time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Duration, len(e.ewma))
	for k, v := range e.ewma {
		out[k] = v
	}
	return out
}
