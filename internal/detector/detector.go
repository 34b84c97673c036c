package detector

import (
	"context"

	"github.com/ppiankov/gatewatch/internal/model"
)

// Signal is a detector's raw verdict before executor post-processing.
type Signal struct {
	Risk         float64
	Confidence   float64
	Threat       model.ThreatType
	Attributions []model.Attribution
}

// Detector is the fixed capability interface every classification tier
// implements. Registering a new detector under the registry and adding it to
// the router's priority order is all it takes to deploy one — the router,
// aggregator, and policy engine never change.
type Detector interface {
	// Name identifies the detector implementation (not the tier it serves).
	Name() string
	// Version identifies the model artifact behind this instance.
	Version() string
	// Analyze scores the feature vector. It must honor ctx cancellation;
	// the executor enforces the wall-clock timeout and converts errors and
	// overruns into fallback tier results.
	Analyze(ctx context.Context, fv *model.FeatureVector) (Signal, error)
}

// clamp bounds v to [0,1]. Detector outputs outside the range are coerced
// rather than rejected.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseThreat maps a string to a ThreatType. Unknown values degrade to
// benign rather than inventing a category.
func parseThreat(s string) model.ThreatType {
	for _, t := range model.KnownThreats {
		if string(t) == s {
			return t
		}
	}
	return model.ThreatBenign
}
