package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/ppiankov/gatewatch/internal/model"
)

func observe(p *Pipeline, action model.Action, threat model.ThreatType, ms float64, flags model.DecisionFlags) {
	p.Observe(&model.Decision{
		Action:     action,
		Score:      model.AggregateScore{Threat: threat},
		Flags:      flags,
		Processing: time.Duration(ms * float64(time.Millisecond)),
	})
}

func TestSnapshotHasStableShape(t *testing.T) {
	s := NewPipeline().Snapshot()

	if s.RequestsProcessed != 0 {
		t.Errorf("fresh pipeline requests = %d", s.RequestsProcessed)
	}
	for _, a := range []model.Action{model.ActionAllow, model.ActionBlock, model.ActionConfirm} {
		if v, ok := s.Decisions[string(a)]; !ok || v != 0 {
			t.Errorf("action %s missing or nonzero in empty snapshot", a)
		}
	}
	if _, ok := s.ThreatsDetected[string(model.ThreatBenign)]; ok {
		t.Error("benign is not a detected threat")
	}
	if _, ok := s.ThreatsDetected[string(model.ThreatPromptInjection)]; !ok {
		t.Error("known threats must appear zeroed")
	}
}

func TestObserveCountsByActionAndThreat(t *testing.T) {
	p := NewPipeline()
	observe(p, model.ActionAllow, model.ThreatBenign, 1, model.DecisionFlags{})
	observe(p, model.ActionAllow, model.ThreatBenign, 1, model.DecisionFlags{})
	observe(p, model.ActionBlock, model.ThreatPromptInjection, 2, model.DecisionFlags{})
	observe(p, model.ActionConfirm, model.ThreatToolAbuse, 3, model.DecisionFlags{})

	s := p.Snapshot()
	if s.RequestsProcessed != 4 {
		t.Errorf("requests = %d", s.RequestsProcessed)
	}
	if s.Decisions[string(model.ActionAllow)] != 2 || s.Decisions[string(model.ActionBlock)] != 1 || s.Decisions[string(model.ActionConfirm)] != 1 {
		t.Errorf("decision counts = %v", s.Decisions)
	}
	if s.ThreatsDetected[string(model.ThreatPromptInjection)] != 1 {
		t.Errorf("threat counts = %v", s.ThreatsDetected)
	}
	if s.ThreatsDetected[string(model.ThreatToolAbuse)] != 1 {
		t.Errorf("threat counts = %v", s.ThreatsDetected)
	}
}

func TestRunningAverageProcessingTime(t *testing.T) {
	p := NewPipeline()
	observe(p, model.ActionAllow, model.ThreatBenign, 10, model.DecisionFlags{})
	observe(p, model.ActionAllow, model.ThreatBenign, 20, model.DecisionFlags{})
	observe(p, model.ActionAllow, model.ThreatBenign, 30, model.DecisionFlags{})

	if got := p.Snapshot().AvgProcessingMS; math.Abs(got-20) > 1e-9 {
		t.Errorf("avg = %v, want 20", got)
	}
}

func TestFailureCounters(t *testing.T) {
	p := NewPipeline()
	observe(p, model.ActionBlock, model.ThreatBenign, 1, model.DecisionFlags{FailClosed: true})
	observe(p, model.ActionBlock, model.ThreatBenign, 1, model.DecisionFlags{Partial: true})
	observe(p, model.ActionBlock, model.ThreatBenign, 1, model.DecisionFlags{FailClosed: true, Partial: true})

	s := p.Snapshot()
	if s.FailClosed != 2 {
		t.Errorf("fail_closed = %d", s.FailClosed)
	}
	if s.Partial != 2 {
		t.Errorf("partial = %d", s.Partial)
	}
}
