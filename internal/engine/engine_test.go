package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/gatewatch/internal/aggregate"
	"github.com/ppiankov/gatewatch/internal/audit"
	"github.com/ppiankov/gatewatch/internal/confirm"
	"github.com/ppiankov/gatewatch/internal/detector"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/policy"
	"github.com/ppiankov/gatewatch/internal/recorder"
	"github.com/ppiankov/gatewatch/internal/registry"
	"github.com/ppiankov/gatewatch/internal/router"
	"github.com/ppiankov/gatewatch/internal/tier"
)

type scripted struct {
	sig   detector.Signal
	delay time.Duration
}

func (s *scripted) Name() string    { return "scripted" }
func (s *scripted) Version() string { return "scripted-v1" }
func (s *scripted) Analyze(ctx context.Context, _ *model.FeatureVector) (detector.Signal, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return detector.Signal{}, ctx.Err()
		}
	}
	return s.sig, nil
}

func validFV() *model.FeatureVector {
	return &model.FeatureVector{
		Schema: model.SchemaVersion,
		Numeric: map[string]float64{
			"prompt_len": 10, "tool_call_len": 0, "entropy": 4.0, "special_char_ratio": 0.05,
		},
	}
}

func defaultPolicy(t *testing.T) *policy.Engine {
	t.Helper()
	cfg, hash, err := policy.LoadWithHash(t.TempDir() + "/missing.yaml")
	if err != nil {
		t.Fatal(err)
	}
	return policy.NewEngine(cfg, hash)
}

// testEngine builds an engine over scripted detectors. Tiers missing from
// the map stay unregistered and show up as SKIPPED.
func testEngine(t *testing.T, budget time.Duration, tiers map[string]detector.Detector) *Engine {
	t.Helper()
	reg := registry.New()
	var specs []router.TierSpec
	names := []string{"screen", "deep"}
	for i, name := range names {
		specs = append(specs, router.TierSpec{Name: name, Priority: i + 1, Timeout: 50 * time.Millisecond})
		if d, ok := tiers[name]; ok {
			if err := reg.Activate(name, &registry.ModelHandle{Tier: name, Version: "v1", Detector: d}); err != nil {
				t.Fatal(err)
			}
		}
	}
	exec := tier.NewExecutor(tier.DefaultFallback(), nil)
	rt := router.New(specs, router.DefaultThresholds(), budget, reg, exec)

	eng, err := New(Config{
		Router:    rt,
		Aggregate: aggregate.DefaultConfig(),
		Policy:    defaultPolicy(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestAllowFailActionRejected(t *testing.T) {
	_, err := New(Config{FailAction: model.ActionAllow})
	if err == nil {
		t.Fatal("expected ErrUnsafeFailAction")
	}
}

func TestLowRiskRequestAllowed(t *testing.T) {
	eng := testEngine(t, 100*time.Millisecond, map[string]detector.Detector{
		"screen": &scripted{sig: detector.Signal{Risk: 0.02, Confidence: 0.95}},
		"deep":   &scripted{sig: detector.Signal{Risk: 0.9, Confidence: 0.9}},
	})

	d := eng.Analyze(context.Background(), validFV(), model.RequestMeta{ClientID: "c1"})

	if d.Action != model.ActionAllow {
		t.Errorf("expected ALLOW, got %s via %s", d.Action, d.MatchedRuleID)
	}
	if d.RequestID == "" {
		t.Error("engine must assign a request id")
	}
	if len(d.Trace()) != 1 {
		t.Errorf("decisive screen tier should leave a single-entry trace, got %d", len(d.Trace()))
	}
	if d.Flags.FailClosed || d.Flags.Partial {
		t.Errorf("clean decision carries no failure flags: %+v", d.Flags)
	}
	if d.Reason == "" || d.MatchedRuleID == "" {
		t.Error("decision must carry rule id and reason")
	}
}

func TestAmbiguousRequestEscalatesAndBlocks(t *testing.T) {
	eng := testEngine(t, 200*time.Millisecond, map[string]detector.Detector{
		"screen": &scripted{sig: detector.Signal{Risk: 0.5, Confidence: 0.4}},
		"deep":   &scripted{sig: detector.Signal{Risk: 0.9, Confidence: 0.9, Threat: model.ThreatPromptInjection}},
	})

	d := eng.Analyze(context.Background(), validFV(), model.RequestMeta{})

	if d.Action != model.ActionBlock {
		t.Errorf("expected BLOCK, got %s via %s", d.Action, d.MatchedRuleID)
	}
	if len(d.Trace()) != 2 {
		t.Errorf("expected both tiers in the trace, got %d", len(d.Trace()))
	}
	if d.Score.Threat != model.ThreatPromptInjection {
		t.Errorf("expected prompt_injection, got %s", d.Score.Threat)
	}
}

func TestSchemaMismatchFailsClosed(t *testing.T) {
	eng := testEngine(t, 100*time.Millisecond, map[string]detector.Detector{
		"screen": &scripted{sig: detector.Signal{Risk: 0, Confidence: 1}},
	})

	bad := &model.FeatureVector{Schema: 99, Numeric: map[string]float64{}}
	d := eng.Analyze(context.Background(), bad, model.RequestMeta{})

	if d.Action == model.ActionAllow {
		t.Fatal("schema mismatch must never resolve to ALLOW")
	}
	if d.Action != model.ActionBlock {
		t.Errorf("default fail action is BLOCK, got %s", d.Action)
	}
	if !d.Flags.FailClosed || !d.Flags.SchemaMismatch {
		t.Errorf("expected fail-closed schema-mismatch flags, got %+v", d.Flags)
	}
	if d.MatchedRuleID != "fail_closed.schema_mismatch" {
		t.Errorf("unexpected rule id %s", d.MatchedRuleID)
	}
}

func TestNoEvidenceFailsClosed(t *testing.T) {
	// No tier has an active model: the trace is all SKIPPED.
	eng := testEngine(t, 100*time.Millisecond, nil)

	d := eng.Analyze(context.Background(), validFV(), model.RequestMeta{})

	if d.Action == model.ActionAllow {
		t.Fatal("an evidence-free request must never be allowed")
	}
	if !d.Flags.FailClosed {
		t.Error("expected fail-closed flag")
	}
	if d.MatchedRuleID != "fail_closed.no_evidence" {
		t.Errorf("unexpected rule id %s", d.MatchedRuleID)
	}
	// The skip trail stays visible for diagnosis.
	if len(d.Score.Results) == 0 {
		t.Error("expected skipped tiers in the trace")
	}
}

func TestNoEvidenceTraceReachesAuditLog(t *testing.T) {
	// The recorder delivers on its own goroutine; the skip trail must be in
	// the decision before it is handed over, not patched in afterwards.
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	alog, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := recorder.New(recorder.Config{AuditLog: alog})

	reg := registry.New()
	exec := tier.NewExecutor(tier.DefaultFallback(), nil)
	rt := router.New([]router.TierSpec{
		{Name: "screen", Priority: 1, Timeout: 50 * time.Millisecond},
		{Name: "deep", Priority: 2, Timeout: 50 * time.Millisecond},
	}, router.DefaultThresholds(), 100*time.Millisecond, reg, exec)

	eng, err := New(Config{
		Router:    rt,
		Aggregate: aggregate.DefaultConfig(),
		Policy:    defaultPolicy(t),
		Recorder:  rec,
	})
	if err != nil {
		t.Fatal(err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		d := eng.Analyze(context.Background(), validFV(), model.RequestMeta{})
		if len(d.Trace()) != 2 {
			t.Fatalf("expected both skipped tiers in the trace, got %d", len(d.Trace()))
		}
	}
	rec.Close()
	if err := alog.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := audit.Tail(path, n)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d audit entries, got %d", n, len(entries))
	}
	for _, e := range entries {
		if len(e.Trace) != 2 {
			t.Fatalf("entry %s lost the skip trail: %d lines", e.RequestID, len(e.Trace))
		}
		for _, tl := range e.Trace {
			if tl.Status != string(model.TierSkipped) {
				t.Errorf("expected SKIPPED, got %s", tl.Status)
			}
		}
	}
}

// confirmEngine builds an engine whose single tier always lands in the
// elevated-risk band, so the default policy answers CONFIRM.
func confirmEngine(t *testing.T, grants GrantStore) *Engine {
	t.Helper()
	reg := registry.New()
	d := &scripted{sig: detector.Signal{Risk: 0.5, Confidence: 0.9}}
	if err := reg.Activate("screen", &registry.ModelHandle{Tier: "screen", Version: "v1", Detector: d}); err != nil {
		t.Fatal(err)
	}
	exec := tier.NewExecutor(tier.DefaultFallback(), nil)
	rt := router.New([]router.TierSpec{{Name: "screen", Priority: 1, Timeout: 50 * time.Millisecond}},
		router.DefaultThresholds(), 100*time.Millisecond, reg, exec)

	eng, err := New(Config{
		Router:    rt,
		Aggregate: aggregate.DefaultConfig(),
		Policy:    defaultPolicy(t),
		Grants:    grants,
	})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestConfirmGrantLiftsDecision(t *testing.T) {
	cs, err := confirm.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	eng := confirmEngine(t, cs)
	meta := model.RequestMeta{RequestID: "req-grant-1"}

	d := eng.Analyze(context.Background(), validFV(), meta)
	if d.Action != model.ActionConfirm {
		t.Fatalf("expected CONFIRM before any grant, got %s via %s", d.Action, d.MatchedRuleID)
	}
	if d.Flags.Granted {
		t.Error("ungranted decision must not carry the granted flag")
	}

	if err := cs.Request(confirm.Confirmation{Key: meta.RequestID, RuleID: d.MatchedRuleID}); err != nil {
		t.Fatal(err)
	}
	if err := cs.Confirm(meta.RequestID, 0); err != nil {
		t.Fatal(err)
	}

	d = eng.Analyze(context.Background(), validFV(), meta)
	if d.Action != model.ActionAllow {
		t.Fatalf("granted resubmission must be allowed, got %s", d.Action)
	}
	if !d.Flags.Granted {
		t.Error("expected the granted flag on the lifted decision")
	}
	if d.MatchedRuleID == "" || d.Reason == "" {
		t.Error("lifted decision keeps its rule id and reason")
	}

	// A one-time grant is used up: the next resubmission parks again.
	d = eng.Analyze(context.Background(), validFV(), meta)
	if d.Action != model.ActionConfirm {
		t.Errorf("consumed grant must not serve twice, got %s", d.Action)
	}
}

func TestTimedGrantServesRepeatedRequests(t *testing.T) {
	cs, err := confirm.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	eng := confirmEngine(t, cs)
	meta := model.RequestMeta{RequestID: "req-grant-2"}

	if err := cs.Request(confirm.Confirmation{Key: meta.RequestID}); err != nil {
		t.Fatal(err)
	}
	if err := cs.Confirm(meta.RequestID, time.Hour); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		d := eng.Analyze(context.Background(), validFV(), meta)
		if d.Action != model.ActionAllow || !d.Flags.Granted {
			t.Fatalf("timed grant run %d: action=%s granted=%v", i, d.Action, d.Flags.Granted)
		}
	}
}

func TestDeniedRequestStaysParked(t *testing.T) {
	cs, err := confirm.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	eng := confirmEngine(t, cs)
	meta := model.RequestMeta{RequestID: "req-grant-3"}

	if err := cs.Request(confirm.Confirmation{Key: meta.RequestID}); err != nil {
		t.Fatal(err)
	}
	if err := cs.Deny(meta.RequestID); err != nil {
		t.Fatal(err)
	}

	d := eng.Analyze(context.Background(), validFV(), meta)
	if d.Action != model.ActionConfirm {
		t.Errorf("denied request must not pass, got %s", d.Action)
	}
}

func TestConfirmFailAction(t *testing.T) {
	reg := registry.New()
	exec := tier.NewExecutor(tier.DefaultFallback(), nil)
	rt := router.New([]router.TierSpec{{Name: "ghost", Priority: 1, Timeout: time.Millisecond}},
		router.DefaultThresholds(), 10*time.Millisecond, reg, exec)

	eng, err := New(Config{
		Router:     rt,
		Aggregate:  aggregate.DefaultConfig(),
		Policy:     defaultPolicy(t),
		FailAction: model.ActionConfirm,
	})
	if err != nil {
		t.Fatal(err)
	}

	d := eng.Analyze(context.Background(), validFV(), model.RequestMeta{})
	if d.Action != model.ActionConfirm {
		t.Errorf("expected configured CONFIRM fail action, got %s", d.Action)
	}
}

func TestProcessingTimeBounded(t *testing.T) {
	// Every tier hangs well past its timeout; the decision still lands
	// promptly via fallbacks.
	eng := testEngine(t, 60*time.Millisecond, map[string]detector.Detector{
		"screen": &scripted{sig: detector.Signal{Risk: 0, Confidence: 1}, delay: time.Second},
		"deep":   &scripted{sig: detector.Signal{Risk: 0, Confidence: 1}, delay: time.Second},
	})

	start := time.Now()
	d := eng.Analyze(context.Background(), validFV(), model.RequestMeta{})
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Errorf("analysis blocked past the budget: %v", elapsed)
	}
	if d.Action == model.ActionAllow {
		t.Error("all-fallback evidence must not resolve to ALLOW")
	}
	if d.Processing <= 0 {
		t.Error("decision must record its processing time")
	}
}

func TestMetricsObserveDecisions(t *testing.T) {
	eng := testEngine(t, 100*time.Millisecond, map[string]detector.Detector{
		"screen": &scripted{sig: detector.Signal{Risk: 0.02, Confidence: 0.95}},
	})

	eng.Analyze(context.Background(), validFV(), model.RequestMeta{})
	eng.Analyze(context.Background(), validFV(), model.RequestMeta{})

	snap := eng.Metrics().Snapshot()
	if snap.RequestsProcessed != 2 {
		t.Errorf("expected 2 requests processed, got %d", snap.RequestsProcessed)
	}
	if snap.Decisions[string(model.ActionAllow)] != 2 {
		t.Errorf("expected 2 ALLOW decisions, got %v", snap.Decisions)
	}
}
