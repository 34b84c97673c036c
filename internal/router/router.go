package router

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/registry"
	"github.com/ppiankov/gatewatch/internal/tier"
)

// TierSpec configures one escalation step. Lower priority runs earlier;
// equal priorities fall back to registration order in the registry.
type TierSpec struct {
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Thresholds are the escalation cut-offs. A tier result is decisive when its
// confidence reaches HighConfidence and its risk is clearly low or clearly
// high; anything in between escalates.
type Thresholds struct {
	HighConfidence float64 `yaml:"high_confidence"`
	LowRisk        float64 `yaml:"low_risk"`
	HighRisk       float64 `yaml:"high_risk"`
}

// DefaultThresholds are deployment-tunable starting values, not product
// requirements.
func DefaultThresholds() Thresholds {
	return Thresholds{HighConfidence: 0.85, LowRisk: 0.1, HighRisk: 0.8}
}

// Result is what routing hands to the aggregator.
type Result struct {
	Results []model.TierResult
	// Partial is set when escalation stopped on budget exhaustion while the
	// evidence was still ambiguous.
	Partial bool
	// BudgetExceeded is set when at least one remaining tier was skipped
	// because the budget could not cover its expected latency.
	BudgetExceeded bool
}

// Router decides the minimum tier sequence needed for a confident decision
// within the per-request latency budget. Cheap tiers resolve the easy
// majority; deep tiers are reserved for ambiguous or high-risk traffic.
type Router struct {
	specs  []TierSpec
	thr    Thresholds
	budget time.Duration
	reg    *registry.Registry
	exec   *tier.Executor
	est    *tier.Estimator
}

// New creates a router over the given registry and executor. The spec order
// is normalized once: priority ascending, ties broken by the tier's
// registration order, deterministically.
func New(specs []TierSpec, thr Thresholds, budget time.Duration, reg *registry.Registry, exec *tier.Executor) *Router {
	return &Router{
		specs:  normalize(specs, reg),
		thr:    thr,
		budget: budget,
		reg:    reg,
		exec:   exec,
		est:    exec.Estimator(),
	}
}

// normalize orders specs by priority, breaking ties by registration order.
func normalize(specs []TierSpec, reg *registry.Registry) []TierSpec {
	regIndex := map[string]int{}
	for i, name := range reg.Tiers() {
		regIndex[name] = i
	}
	out := make([]TierSpec, len(specs))
	copy(out, specs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return regIndex[out[i].Name] < regIndex[out[j].Name]
	})
	return out
}

// Budget returns the configured per-request latency budget.
func (r *Router) Budget() time.Duration {
	return r.budget
}

// Route runs the escalation loop for one request. The fast tier always runs;
// each further tier runs only while the evidence is ambiguous and the
// remaining budget covers its rolling latency estimate. The router never
// blocks past the deadline: whatever results were collected are returned.
func (r *Router) Route(ctx context.Context, fv *model.FeatureVector) Result {
	deadline := time.Now().Add(r.budget)
	var res Result

	for i, spec := range r.specs {
		remaining := time.Until(deadline)

		if i > 0 {
			if remaining <= 0 {
				res.BudgetExceeded = true
				res.Partial = true
				break
			}
			expected := r.est.Estimate(spec.Name)
			if expected == 0 {
				expected = spec.Timeout
			}
			if expected > remaining {
				res.BudgetExceeded = true
				res.Partial = true
				break
			}
		}

		h, err := r.reg.Resolve(spec.Name)
		if err != nil {
			if errors.Is(err, registry.ErrTierUnavailable) {
				// Escalation skips the tier; the skip is visible in the trace.
				res.Results = append(res.Results, model.TierResult{
					Tier:   spec.Name,
					Status: model.TierSkipped,
				})
				continue
			}
			continue
		}

		timeout := spec.Timeout
		if i > 0 && remaining < timeout {
			timeout = remaining
		}

		tr := r.exec.Invoke(ctx, h, fv, timeout)
		res.Results = append(res.Results, tr)

		if tr.Status == model.TierCompleted && r.decisive(tr) {
			return res
		}
	}

	return res
}

// decisive reports whether a single result ends escalation: confident and
// unambiguous on either end of the risk scale.
func (r *Router) decisive(tr model.TierResult) bool {
	if tr.Confidence < r.thr.HighConfidence {
		return false
	}
	return tr.Risk <= r.thr.LowRisk || tr.Risk >= r.thr.HighRisk
}
