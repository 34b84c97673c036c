package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/gatewatch/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "decisions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func decision(requestID string, action model.Action, threat model.ThreatType, decidedAt time.Time) *model.Decision {
	return &model.Decision{
		RequestID:     requestID,
		Action:        action,
		MatchedRuleID: "rule-1",
		Score: model.AggregateScore{
			Risk: 0.5, Confidence: 0.8, Threat: threat,
			Results: []model.TierResult{{Tier: "screen", Status: model.TierCompleted, Risk: 0.5, Confidence: 0.8}},
		},
		Meta:      model.RequestMeta{ClientID: "agent-1", Tool: "bash"},
		DecidedAt: decidedAt,
	}
}

func TestInsertAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, decision("req-1", model.ActionAllow, model.ThreatBenign, time.Now())); err != nil {
		t.Fatal(err)
	}

	recs, err := s.List(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.RequestID != "req-1" || r.Action != "ALLOW" || r.ClientID != "agent-1" {
		t.Errorf("record = %+v", r)
	}
	if len(r.Trace) != 1 || r.Trace[0].Tier != "screen" {
		t.Errorf("trace not round-tripped: %+v", r.Trace)
	}
	if r.Label != "" || r.LabeledAt != nil {
		t.Errorf("fresh record must be unlabeled: %+v", r)
	}
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	d := decision("req-1", model.ActionBlock, model.ThreatPromptInjection, time.Now())
	if err := s.Insert(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, d); err == nil {
		t.Error("duplicate request id must be rejected")
	}
}

func TestListFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()

	seed := []*model.Decision{
		decision("req-1", model.ActionAllow, model.ThreatBenign, now.Add(-3*time.Second)),
		decision("req-2", model.ActionBlock, model.ThreatPromptInjection, now.Add(-2*time.Second)),
		decision("req-3", model.ActionBlock, model.ThreatDataExfiltration, now.Add(-time.Second)),
	}
	for _, d := range seed {
		if err := s.Insert(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	blocked, err := s.List(ctx, Query{Action: "BLOCK"})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 2 {
		t.Errorf("expected 2 blocked, got %d", len(blocked))
	}
	if blocked[0].RequestID != "req-3" {
		t.Errorf("newest first, got %s", blocked[0].RequestID)
	}

	exfil, err := s.List(ctx, Query{Threat: string(model.ThreatDataExfiltration)})
	if err != nil {
		t.Fatal(err)
	}
	if len(exfil) != 1 || exfil[0].RequestID != "req-3" {
		t.Errorf("threat filter: %+v", exfil)
	}

	limited, err := s.List(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d records", len(limited))
	}
}

func TestLabel(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, decision("req-1", model.ActionBlock, model.ThreatPromptInjection, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Label(ctx, "req-1", "prompt_injection"); err != nil {
		t.Fatal(err)
	}

	labeled, err := s.List(ctx, Query{LabeledOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(labeled) != 1 {
		t.Fatalf("expected 1 labeled record, got %d", len(labeled))
	}
	if labeled[0].Label != "prompt_injection" || labeled[0].LabeledAt == nil {
		t.Errorf("label not attached: %+v", labeled[0])
	}

	if err := s.Label(ctx, "req-404", "benign"); err == nil {
		t.Error("labeling an unknown request id must fail")
	}
}

func TestCount(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Insert(ctx, decision(id, model.ActionAllow, model.ThreatBenign, time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d", n)
	}
}
