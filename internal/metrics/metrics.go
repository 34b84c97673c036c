package metrics

import (
	"sync"
	"time"

	"github.com/ppiankov/gatewatch/internal/model"
)

// Pipeline counts decisions and tracks a running average of processing
// time. All methods are safe for concurrent use from request workers.
type Pipeline struct {
	mu         sync.Mutex
	requests   int64
	avgMillis  float64
	decisions  map[model.Action]int64
	threats    map[model.ThreatType]int64
	failClosed int64
	partial    int64
}

// NewPipeline creates zeroed pipeline metrics.
func NewPipeline() *Pipeline {
	return &Pipeline{
		decisions: make(map[model.Action]int64),
		threats:   make(map[model.ThreatType]int64),
	}
}

// Observe records one finished decision.
func (p *Pipeline) Observe(d *model.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	ms := float64(d.Processing) / float64(time.Millisecond)
	p.avgMillis += (ms - p.avgMillis) / float64(p.requests)

	p.decisions[d.Action]++
	if d.Score.Threat != model.ThreatBenign {
		p.threats[d.Score.Threat]++
	}
	if d.Flags.FailClosed {
		p.failClosed++
	}
	if d.Flags.Partial {
		p.partial++
	}
}

// Snapshot is the exported metrics shape served on /metrics.
type Snapshot struct {
	RequestsProcessed int64            `json:"requests_processed"`
	AvgProcessingMS   float64          `json:"avg_processing_time_ms"`
	Decisions         map[string]int64 `json:"decisions"`
	ThreatsDetected   map[string]int64 `json:"threats_detected"`
	FailClosed        int64            `json:"fail_closed"`
	Partial           int64            `json:"partial"`
}

// Snapshot returns a copy of the current counters. Every known action and
// threat appears in the maps, zeroed if unseen, so consumers get a stable
// shape.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		RequestsProcessed: p.requests,
		AvgProcessingMS:   p.avgMillis,
		Decisions:         make(map[string]int64, 3),
		ThreatsDetected:   make(map[string]int64, len(model.KnownThreats)),
		FailClosed:        p.failClosed,
		Partial:           p.partial,
	}
	for _, a := range []model.Action{model.ActionAllow, model.ActionBlock, model.ActionConfirm} {
		s.Decisions[string(a)] = p.decisions[a]
	}
	for _, t := range model.KnownThreats {
		if t == model.ThreatBenign {
			continue
		}
		s.ThreatsDetected[string(t)] = p.threats[t]
	}
	return s
}
