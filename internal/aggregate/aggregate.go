package aggregate

import (
	"github.com/ppiankov/gatewatch/internal/model"
)

// Config tunes how failed-tier fallbacks participate in the aggregate.
type Config struct {
	// FailedWeight is the fixed confidence weight a TIMED_OUT or ERRORED
	// result contributes at, regardless of its recorded confidence. Kept low
	// so a fallback can tilt but never dominate the aggregate.
	FailedWeight float64 `yaml:"failed_weight"`
}

// DefaultConfig returns the deployment default.
func DefaultConfig() Config {
	return Config{FailedWeight: 0.15}
}

// Aggregate combines tier results into one calibrated score. Pure function:
// identical input sequences always produce the identical score.
//
// Each completed result's risk contributes proportionally to its confidence.
// Failed results contribute their fallback risk at the fixed low weight.
// Skipped results carry no weight at all. The aggregate confidence is the
// maximum confidence among contributors — one highly confident signal is
// enough to trust the aggregate.
func Aggregate(results []model.TierResult, cfg Config) model.AggregateScore {
	score := model.AggregateScore{
		Threat:  model.ThreatBenign,
		Results: results,
	}

	var weightSum, riskSum float64
	var bestWeight float64

	for _, tr := range results {
		if !tr.Contributes() {
			continue
		}

		w := tr.Confidence
		if tr.Status != model.TierCompleted {
			w = cfg.FailedWeight
		}
		if w <= 0 {
			continue
		}

		weightSum += w
		riskSum += tr.Risk * w

		if tr.Confidence > score.Confidence {
			score.Confidence = tr.Confidence
		}
		// Dominant threat comes from the heaviest non-benign contributor.
		if tr.Threat != model.ThreatBenign && w > bestWeight {
			bestWeight = w
			score.Threat = tr.Threat
		}
	}

	if weightSum > 0 {
		score.Risk = riskSum / weightSum
	}
	return score
}
