package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/gatewatch/internal/detector"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/registry"
)

// Fallback holds the conservative values substituted when a tier fails.
// They must lean toward risk so a dead tier cannot wave traffic through,
// while carrying low confidence so one failure cannot dominate the aggregate.
type Fallback struct {
	Risk       float64 `yaml:"risk"`
	Confidence float64 `yaml:"confidence"`
}

// DefaultFallback mirrors the deployment defaults: risk above the typical
// high-risk threshold, confidence low enough to invite escalation.
func DefaultFallback() Fallback {
	return Fallback{Risk: 0.7, Confidence: 0.2}
}

// Executor wraps one model invocation with a hard wall-clock timeout. All
// failure modes — timeout, detector error, panic — come back as a TierResult
// with fallback values; nothing is ever raised past this boundary. Every
// invocation feeds its latency into the estimator, timed-out ones included.
type Executor struct {
	fallback Fallback
	est      *Estimator
}

// NewExecutor creates an executor recording latencies into est.
func NewExecutor(fallback Fallback, est *Estimator) *Executor {
	if est == nil {
		est = NewEstimator()
	}
	return &Executor{fallback: fallback, est: est}
}

// Estimator exposes the latency feedback sink shared with the router.
func (e *Executor) Estimator() *Estimator {
	return e.est
}

type outcome struct {
	sig detector.Signal
	err error
}

// Invoke runs one tier against the feature vector. The detector observes
// cancellation through ctx; when the deadline fires the result is discarded
// for scoring but the elapsed time still becomes a latency sample.
func (e *Executor) Invoke(ctx context.Context, h *registry.ModelHandle, fv *model.FeatureVector, timeout time.Duration) model.TierResult {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("detector panic: %v", r)}
			}
		}()
		sig, err := h.Detector.Analyze(cctx, fv)
		ch <- outcome{sig: sig, err: err}
	}()

	select {
	case o := <-ch:
		elapsed := time.Since(start)
		e.est.Record(h.Tier, elapsed)
		if o.err != nil {
			return e.fallbackResult(h, elapsed, model.TierErrored)
		}
		return model.TierResult{
			Tier:         h.Tier,
			ModelVersion: h.Version,
			Risk:         o.sig.Risk,
			Confidence:   o.sig.Confidence,
			Threat:       o.sig.Threat,
			Latency:      elapsed,
			Attributions: o.sig.Attributions,
			Status:       model.TierCompleted,
		}

	case <-cctx.Done():
		// The goroutine keeps draining into the buffered channel and exits
		// on its own once the detector honors cancellation.
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			// Caller cancellation, not a tier timeout. The elapsed time
			// measures the caller, not the tier, so it stays out of the
			// estimator.
			return e.fallbackResult(h, elapsed, model.TierErrored)
		}
		e.est.Record(h.Tier, elapsed)
		return e.fallbackResult(h, elapsed, model.TierTimedOut)
	}
}

func (e *Executor) fallbackResult(h *registry.ModelHandle, elapsed time.Duration, status model.TierStatus) model.TierResult {
	return model.TierResult{
		Tier:         h.Tier,
		ModelVersion: h.Version,
		Risk:         e.fallback.Risk,
		Confidence:   e.fallback.Confidence,
		Threat:       model.ThreatBenign,
		Latency:      elapsed,
		Status:       status,
		Fallback:     true,
	}
}
