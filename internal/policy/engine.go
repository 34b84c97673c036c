package policy

import (
	"strings"
	"sync/atomic"

	"github.com/ppiankov/gatewatch/internal/model"
)

// Verdict is the outcome of policy evaluation.
type Verdict struct {
	Action Action
	RuleID string
	Reason string
}

// Action aliases the model type so callers of the engine read naturally.
type Action = model.Action

// set is one immutable, published policy version.
type set struct {
	cfg  *Config
	hash string
}

// Engine evaluates the active rule list against aggregate scores. The
// active list is swapped atomically as a whole on hot reload; evaluation
// itself is pure and sub-millisecond.
type Engine struct {
	current atomic.Pointer[set]
}

// NewEngine creates an engine with the given initial config and hash.
func NewEngine(cfg *Config, hash string) *Engine {
	e := &Engine{}
	e.current.Store(&set{cfg: cfg, hash: hash})
	return e
}

// Swap atomically replaces the active policy. In-flight evaluations finish
// against the version they loaded.
func (e *Engine) Swap(cfg *Config, hash string) {
	e.current.Store(&set{cfg: cfg, hash: hash})
}

// Hash returns the active policy version hash.
func (e *Engine) Hash() string {
	return e.current.Load().hash
}

// Decide maps an aggregate score and request metadata to an enforcement
// action. First matching rule wins; no match falls to the configured
// default action. Deterministic for identical inputs against the same
// policy version.
func (e *Engine) Decide(score model.AggregateScore, meta model.RequestMeta) Verdict {
	s := e.current.Load()

	for _, r := range s.cfg.Rules {
		if !matches(r, score, meta) {
			continue
		}
		action, ok := parseAction(r.Action)
		if !ok {
			// validate() rejects unknown actions at load; this is the
			// fail-closed backstop for programmatically built configs.
			action = model.ActionBlock
		}
		return Verdict{Action: action, RuleID: r.ID, Reason: r.Reason}
	}

	action, ok := parseAction(s.cfg.DefaultAction)
	if !ok {
		action = model.ActionBlock
	}
	return Verdict{
		Action: action,
		RuleID: "default",
		Reason: "no policy rule matched",
	}
}

// matches evaluates one rule predicate. Pure boolean expression over
// numeric and categorical inputs.
func matches(r Rule, score model.AggregateScore, meta model.RequestMeta) bool {
	if score.Risk < r.MinRisk || score.Risk > r.MaxRisk {
		return false
	}
	if score.Confidence < r.MinConfidence {
		return false
	}
	if len(r.Threats) > 0 && !containsFold(r.Threats, string(score.Threat)) {
		return false
	}
	if len(r.Clients) > 0 && !matchesAnyPattern(r.Clients, meta.ClientID) {
		return false
	}
	if len(r.Tools) > 0 && !matchesAnyPattern(r.Tools, meta.Tool) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// matchesAnyPattern checks glob forms: *x* contains, *x suffix, x* prefix,
// exact otherwise. Matching is case-insensitive.
func matchesAnyPattern(patterns []string, v string) bool {
	lower := strings.ToLower(v)
	for _, p := range patterns {
		if matchPattern(strings.ToLower(p), lower) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, v string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		return strings.Contains(v, pattern[1:len(pattern)-1])
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(v, pattern[1:])
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(v, pattern[:len(pattern)-1])
	}
	return v == pattern
}
