package detector

import (
	"context"
	"sort"

	"github.com/ppiankov/gatewatch/internal/model"
)

// keyword-hit feature names the extractor emits, one per threat category.
var categoryFeatures = map[string]model.ThreatType{
	"kw_prompt_injection":  model.ThreatPromptInjection,
	"kw_data_exfiltration": model.ThreatDataExfiltration,
	"kw_agent_hijacking":   model.ThreatAgentHijacking,
	"kw_resource_dos":      model.ThreatResourceDoS,
	"kw_tool_abuse":        model.ThreatToolAbuse,
	"kw_context_poisoning": model.ThreatContextPoisoning,
}

// HeuristicWeights tune the fast screen's per-feature contributions.
type HeuristicWeights struct {
	KeywordHit       float64 `yaml:"keyword_hit"`
	HighEntropy      float64 `yaml:"high_entropy"`
	SpecialCharRatio float64 `yaml:"special_char_ratio"`
	EntropyThreshold float64 `yaml:"entropy_threshold"`
}

// DefaultHeuristicWeights returns the built-in fast screen tuning.
func DefaultHeuristicWeights() HeuristicWeights {
	return HeuristicWeights{
		KeywordHit:       0.25,
		HighEntropy:      0.15,
		SpecialCharRatio: 0.10,
		EntropyThreshold: 5.2,
	}
}

// Heuristic is the tier-1 fast screen. It scores only the numeric keyword
// and shape features computed upstream, so a single pass costs microseconds.
// Confidence is high at both ends of the scale and drops in the ambiguous
// middle, which is what drives router escalation.
type Heuristic struct {
	weights HeuristicWeights
	version string
}

// NewHeuristic creates the fast screen with the given tuning.
func NewHeuristic(w HeuristicWeights, version string) *Heuristic {
	if version == "" {
		version = "heuristic-v1"
	}
	return &Heuristic{weights: w, version: version}
}

func (h *Heuristic) Name() string    { return "heuristic" }
func (h *Heuristic) Version() string { return h.version }

func (h *Heuristic) Analyze(_ context.Context, fv *model.FeatureVector) (Signal, error) {
	risk := 0.0
	var attrs []model.Attribution

	// Per-category keyword hits dominate.
	best := model.ThreatBenign
	bestHits := 0.0
	names := make([]string, 0, len(categoryFeatures))
	for name := range categoryFeatures {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic attribution order

	for _, name := range names {
		hits := fv.Num(name)
		if hits <= 0 {
			continue
		}
		w := hits * h.weights.KeywordHit
		risk += w
		attrs = append(attrs, model.Attribution{Feature: name, Weight: w})
		if hits > bestHits {
			bestHits = hits
			best = categoryFeatures[name]
		}
	}

	// Shape signals: unusually high entropy or symbol density suggests
	// encoded payloads.
	if e := fv.Num("entropy"); e > h.weights.EntropyThreshold {
		risk += h.weights.HighEntropy
		attrs = append(attrs, model.Attribution{Feature: "entropy", Weight: h.weights.HighEntropy})
	}
	if r := fv.Num("special_char_ratio"); r > 0.35 {
		risk += h.weights.SpecialCharRatio
		attrs = append(attrs, model.Attribution{Feature: "special_char_ratio", Weight: h.weights.SpecialCharRatio})
	}

	risk = clamp(risk)

	return Signal{
		Risk:         risk,
		Confidence:   edgeConfidence(risk),
		Threat:       best,
		Attributions: attrs,
	}, nil
}

// edgeConfidence is high when risk is near either end of the scale and low
// in the middle: 1-2*|0.5-risk| inverted. A 0.0 or 1.0 risk yields 0.95;
// a 0.5 risk yields 0.35.
func edgeConfidence(risk float64) float64 {
	d := risk - 0.5
	if d < 0 {
		d = -d
	}
	return 0.35 + 1.2*d
}
