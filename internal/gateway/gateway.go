// Package gateway assembles a running inspection pipeline from
// configuration. The HTTP server, the MCP server, and the one-shot CLI
// commands all build through here so they share identical wiring.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/gatewatch/internal/alert"
	"github.com/ppiankov/gatewatch/internal/audit"
	"github.com/ppiankov/gatewatch/internal/config"
	"github.com/ppiankov/gatewatch/internal/confirm"
	"github.com/ppiankov/gatewatch/internal/detector"
	"github.com/ppiankov/gatewatch/internal/engine"
	"github.com/ppiankov/gatewatch/internal/metrics"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/policy"
	"github.com/ppiankov/gatewatch/internal/recorder"
	"github.com/ppiankov/gatewatch/internal/registry"
	"github.com/ppiankov/gatewatch/internal/router"
	"github.com/ppiankov/gatewatch/internal/store"
	"github.com/ppiankov/gatewatch/internal/tier"
)

// Options tune assembly beyond what the config file carries.
type Options struct {
	// ConfigPath and PolicyPath override the default file locations.
	ConfigPath string
	PolicyPath string
	// DryRun disables every sink: no audit entries, no decision rows, no
	// pending confirmations, no alerts. Used by `gatewatch check`.
	DryRun bool
	Logger *slog.Logger
}

// Gateway holds the assembled pipeline and its closable resources.
type Gateway struct {
	Engine *engine.Engine

	// Check shares the Engine's tiers and policy but records nothing,
	// redeems no grants, and keeps its own counters. Used for dry-run
	// evaluation.
	Check     *engine.Engine
	Registry  *registry.Registry
	Policy    *policy.Engine
	Confirms  *confirm.Store
	Decisions *store.Store
	Config    *config.Config

	PolicyPath string
	PolicyHash string

	rec      *recorder.Recorder
	auditLog *audit.Log
	log      *slog.Logger
}

// Build loads configuration and policy, constructs the detectors for every
// configured tier, and wires the full pipeline.
func Build(ctx context.Context, opts Options) (*Gateway, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	policyPath := opts.PolicyPath
	if policyPath == "" {
		policyPath = cfg.PolicyPath
	}
	polCfg, polHash, err := policy.LoadWithHash(policyPath)
	if err != nil {
		return nil, err
	}
	polEngine := policy.NewEngine(polCfg, polHash)

	reg := registry.New()
	for _, tc := range cfg.Tiers {
		det, err := buildDetector(ctx, tc)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
		version := tc.Version
		if version == "" {
			version = det.Version()
		}
		handle := &registry.ModelHandle{Tier: tc.Name, Version: version, Detector: det}
		if err := reg.Activate(tc.Name, handle); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
	}

	exec := tier.NewExecutor(cfg.Fallback, tier.NewEstimator())
	rt := router.New(cfg.RouterSpecs(), cfg.Thresholds, cfg.Budget, reg, exec)

	gw := &Gateway{
		Registry:   reg,
		Policy:     polEngine,
		Config:     cfg,
		PolicyPath: policyPath,
		PolicyHash: polHash,
		log:        opts.Logger,
	}

	if !opts.DryRun {
		if cfg.AuditLog != "" {
			gw.auditLog, err = audit.Open(cfg.AuditLog)
			if err != nil {
				return nil, err
			}
		}
		if cfg.DecisionDB != "" {
			gw.Decisions, err = store.Open(cfg.DecisionDB)
			if err != nil {
				gw.closePartial()
				return nil, err
			}
		}
		confirmDir := cfg.ConfirmDir
		if confirmDir == "" {
			confirmDir = confirm.DefaultDir()
		}
		gw.Confirms, err = confirm.NewStore(confirmDir)
		if err != nil {
			gw.closePartial()
			return nil, err
		}
		gw.rec = recorder.New(recorder.Config{
			AuditLog:   gw.auditLog,
			Dispatcher: alert.NewDispatcher(cfg.Alerts),
			Decisions:  gw.Decisions,
			Confirms:   gw.Confirms,
			PolicyHash: polEngine.Hash,
			Logger:     opts.Logger,
		})
	}

	failAction := model.ActionBlock
	if cfg.FailAction == "confirm" {
		failAction = model.ActionConfirm
	}
	engCfg := engine.Config{
		Router:     rt,
		Aggregate:  cfg.Aggregate,
		Policy:     polEngine,
		Recorder:   gw.rec,
		Metrics:    metrics.NewPipeline(),
		FailAction: failAction,
		Logger:     opts.Logger,
	}
	if gw.Confirms != nil {
		engCfg.Grants = gw.Confirms
	}
	eng, err := engine.New(engCfg)
	if err != nil {
		gw.closePartial()
		return nil, err
	}
	gw.Engine = eng

	gw.Check, err = engine.New(engine.Config{
		Router:     rt,
		Aggregate:  cfg.Aggregate,
		Policy:     polEngine,
		Metrics:    metrics.NewPipeline(),
		FailAction: failAction,
		Logger:     opts.Logger,
	})
	if err != nil {
		gw.closePartial()
		return nil, err
	}
	return gw, nil
}

func buildDetector(ctx context.Context, tc config.TierConfig) (detector.Detector, error) {
	switch tc.Detector {
	case "heuristic":
		weights := detector.DefaultHeuristicWeights()
		if tc.Heuristic != nil {
			weights = *tc.Heuristic
		}
		return detector.NewHeuristic(weights, "builtin-1"), nil
	case "signature":
		return detector.NewSignature("builtin-1"), nil
	case "llm":
		return detector.NewLLM(*tc.LLM), nil
	case "bedrock":
		return detector.NewBedrock(ctx, *tc.Bedrock)
	default:
		return nil, fmt.Errorf("unknown detector %q", tc.Detector)
	}
}

// ReloadPolicy re-reads the policy file and swaps it into the live engine.
// The old rules keep serving until the new set validates.
func (g *Gateway) ReloadPolicy() error {
	cfg, hash, err := policy.LoadWithHash(g.PolicyPath)
	if err != nil {
		return err
	}
	g.Policy.Swap(cfg, hash)
	g.PolicyHash = hash
	g.log.Info("policy reloaded", "hash", hash, "rules", len(cfg.Rules))
	return nil
}

// Close flushes the recorder and releases sink resources.
func (g *Gateway) Close() error {
	if g.rec != nil {
		g.rec.Close()
	}
	return g.closePartial()
}

func (g *Gateway) closePartial() error {
	var firstErr error
	if g.auditLog != nil {
		if err := g.auditLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.Decisions != nil {
		if err := g.Decisions.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
