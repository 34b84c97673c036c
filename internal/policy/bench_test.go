package policy

import (
	"fmt"
	"testing"

	"github.com/ppiankov/gatewatch/internal/model"
)

func benchEngine(b *testing.B, cfg *Config) *Engine {
	b.Helper()
	cfg, hash, err := prepared(cfg, "sha256:bench")
	if err != nil {
		b.Fatal(err)
	}
	return NewEngine(cfg, hash)
}

func BenchmarkDecide_AllowLowRisk(b *testing.B) {
	e := benchEngine(b, DefaultConfig())
	score := model.AggregateScore{Risk: 0.05, Confidence: 0.95}
	meta := model.RequestMeta{ClientID: "bench-client"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Decide(score, meta)
	}
}

func BenchmarkDecide_BlockFirstRule(b *testing.B) {
	e := benchEngine(b, DefaultConfig())
	score := model.AggregateScore{Risk: 0.92, Confidence: 0.9, Threat: model.ThreatPromptInjection}
	meta := model.RequestMeta{ClientID: "bench-client"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Decide(score, meta)
	}
}

func BenchmarkDecide_RulesTraversal(b *testing.B) {
	cfg := DefaultConfig()
	// 50 non-matching rules in front to force a full scan.
	front := make([]Rule, 0, 50+len(cfg.Rules))
	for i := 0; i < 50; i++ {
		front = append(front, Rule{
			ID:      fmt.Sprintf("bench.no-match-%d", i),
			MinRisk: 0.99,
			Clients: []string{"*no-such-client*"},
			Action:  "block",
		})
	}
	cfg.Rules = append(front, cfg.Rules...)

	e := benchEngine(b, cfg)
	score := model.AggregateScore{Risk: 0.05, Confidence: 0.95}
	meta := model.RequestMeta{ClientID: "bench-client", Tool: "bash"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Decide(score, meta)
	}
}
