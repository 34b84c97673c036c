// Package engine wires the inference pipeline: feature validation, adaptive
// routing, score aggregation, policy evaluation, and decision recording.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ppiankov/gatewatch/internal/aggregate"
	"github.com/ppiankov/gatewatch/internal/metrics"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/policy"
	"github.com/ppiankov/gatewatch/internal/recorder"
	"github.com/ppiankov/gatewatch/internal/router"
	"github.com/ppiankov/gatewatch/internal/tracer"
)

// GrantStore checks and consumes operator confirmation grants keyed by
// request id.
type GrantStore interface {
	Consume(key string) (bool, error)
}

// Engine is the multi-tier inference and decision engine. One Analyze call
// per request; calls are independent and safe to run concurrently.
type Engine struct {
	router  *router.Router
	aggCfg  aggregate.Config
	policy  *policy.Engine
	rec     *recorder.Recorder
	metrics *metrics.Pipeline
	grants  GrantStore
	// failAction is the safe default applied on failure paths. Validated at
	// construction to never be ALLOW.
	failAction model.Action
	log        *slog.Logger
}

// Config assembles an engine.
type Config struct {
	Router    *router.Router
	Aggregate aggregate.Config
	Policy    *policy.Engine
	Recorder  *recorder.Recorder
	Metrics   *metrics.Pipeline
	// Grants, when set, lets a re-submitted request redeem an operator
	// confirmation: a CONFIRM verdict with a valid grant becomes ALLOW.
	Grants     GrantStore
	FailAction model.Action
	Logger     *slog.Logger
}

// ErrUnsafeFailAction rejects configurations whose failure default would
// admit traffic.
var ErrUnsafeFailAction = errors.New("fail-closed action must be BLOCK or CONFIRM")

// New creates an engine. The fail-closed action defaults to BLOCK and may
// never be ALLOW: a failure path must not admit traffic.
func New(cfg Config) (*Engine, error) {
	if cfg.FailAction == "" {
		cfg.FailAction = model.ActionBlock
	}
	if cfg.FailAction == model.ActionAllow {
		return nil, ErrUnsafeFailAction
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewPipeline()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		router:     cfg.Router,
		aggCfg:     cfg.Aggregate,
		policy:     cfg.Policy,
		rec:        cfg.Recorder,
		metrics:    cfg.Metrics,
		grants:     cfg.Grants,
		failAction: cfg.FailAction,
		log:        cfg.Logger,
	}, nil
}

// Metrics exposes the pipeline counters.
func (e *Engine) Metrics() *metrics.Pipeline {
	return e.metrics
}

// Analyze runs the full pipeline for one request and returns its decision.
// The caller always receives a well-formed decision: per-tier faults are
// absorbed into the trace, contract violations and evidence-free requests
// fail closed. The decision is recorded asynchronously before return.
func (e *Engine) Analyze(ctx context.Context, fv *model.FeatureVector, meta model.RequestMeta) *model.Decision {
	start := time.Now()
	if meta.RequestID == "" {
		meta.RequestID = tracer.NewRequestID()
	}
	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = start.UTC()
	}

	if err := fv.Validate(); err != nil {
		e.log.Warn("feature schema mismatch", "request_id", meta.RequestID, "err", err)
		return e.failClosed(meta, start, model.DecisionFlags{FailClosed: true, SchemaMismatch: true}, nil,
			"fail_closed.schema_mismatch", "feature vector violates the extraction contract")
	}

	routed := e.router.Route(ctx, fv)

	if !hasEvidence(routed.Results) {
		flags := model.DecisionFlags{FailClosed: true, Partial: routed.Partial}
		return e.failClosed(meta, start, flags, routed.Results,
			"fail_closed.no_evidence", "no tier produced a result within the budget")
	}

	score := aggregate.Aggregate(routed.Results, e.aggCfg)
	verdict := e.policy.Decide(score, meta)
	flags := model.DecisionFlags{Partial: routed.Partial}

	if verdict.Action == model.ActionConfirm && e.grants != nil {
		ok, err := e.grants.Consume(meta.RequestID)
		if err != nil {
			e.log.Warn("grant lookup failed", "request_id", meta.RequestID, "err", err)
		}
		if ok {
			e.log.Info("confirmation grant consumed",
				"request_id", meta.RequestID, "rule_id", verdict.RuleID)
			verdict.Action = model.ActionAllow
			verdict.Reason = "operator grant consumed: " + verdict.Reason
			flags.Granted = true
		}
	}

	d := &model.Decision{
		RequestID:     meta.RequestID,
		Action:        verdict.Action,
		MatchedRuleID: verdict.RuleID,
		Reason:        verdict.Reason,
		Score:         score,
		Meta:          meta,
		Flags:         flags,
		DecidedAt:     time.Now().UTC(),
		Processing:    time.Since(start),
	}

	e.finish(d)
	return d
}

// failClosed builds the safe-default decision for failure paths. The trace
// carries whatever the router produced (possibly nothing); the flags say
// why. The decision is complete before it reaches the recorder.
func (e *Engine) failClosed(meta model.RequestMeta, start time.Time, flags model.DecisionFlags, results []model.TierResult, ruleID, reason string) *model.Decision {
	d := &model.Decision{
		RequestID:     meta.RequestID,
		Action:        e.failAction,
		MatchedRuleID: ruleID,
		Reason:        reason,
		Score:         model.AggregateScore{Risk: 1, Confidence: 0, Threat: model.ThreatBenign, Results: results},
		Meta:          meta,
		Flags:         flags,
		DecidedAt:     time.Now().UTC(),
		Processing:    time.Since(start),
	}
	e.finish(d)
	return d
}

func (e *Engine) finish(d *model.Decision) {
	e.metrics.Observe(d)
	if e.rec != nil {
		e.rec.Emit(d)
	}
}

// hasEvidence reports whether at least one tier result carries scoring
// weight.
func hasEvidence(results []model.TierResult) bool {
	for _, tr := range results {
		if tr.Contributes() {
			return true
		}
	}
	return false
}
