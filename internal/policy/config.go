package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/gatewatch/internal/model"
)

// Rule is one enforcement rule. Rules are evaluated in priority order
// (lower first, ties keep file order); the first rule whose predicate
// matches wins. Predicates are pure comparisons over the aggregate score
// and request metadata — no I/O, no side effects.
type Rule struct {
	ID       string `yaml:"id"`
	Priority int    `yaml:"priority"`

	// Score predicate. MaxRisk 0 means "no upper bound check" and is
	// normalized to 1.0 at load time.
	MinRisk       float64 `yaml:"min_risk"`
	MaxRisk       float64 `yaml:"max_risk"`
	MinConfidence float64 `yaml:"min_confidence"`

	// Metadata predicate. Empty lists match anything. Client and tool
	// entries support simple glob forms: *x* contains, *x suffix,
	// x* prefix, exact otherwise.
	Threats []string `yaml:"threats"`
	Clients []string `yaml:"clients"`
	Tools   []string `yaml:"tools"`

	Action string `yaml:"action"`
	Reason string `yaml:"reason"`
}

// Config is one immutable policy version: an ordered rule list plus the
// default action applied when nothing matches. Hot reload swaps the whole
// config; rules are never mutated in place.
type Config struct {
	Rules []Rule `yaml:"rules"`

	// DefaultAction applies when no rule matches. The engine refuses a
	// silent ALLOW default unless AllowUnmatched is set explicitly — this
	// is a deployment choice, never an engine default.
	DefaultAction  string `yaml:"default_action"`
	AllowUnmatched bool   `yaml:"allow_unmatched"`
}

// DefaultConfig returns the built-in rule set. Thresholds here are
// deployment-tunable starting points, not product requirements.
func DefaultConfig() *Config {
	return &Config{
		DefaultAction: "confirm",
		Rules: []Rule{
			{
				ID:      "block.critical-risk",
				MinRisk: 0.8,
				Action:  "block",
				Reason:  "risk score in the critical band",
			},
			{
				ID:            "block.confident-threat",
				MinRisk:       0.6,
				MinConfidence: 0.8,
				Action:        "block",
				Reason:        "confident detection above the block threshold",
			},
			{
				ID:      "block.exfiltration",
				MinRisk: 0.5,
				Threats: []string{"data_exfiltration"},
				Action:  "block",
				Reason:  "suspected data exfiltration is never waved through",
			},
			{
				ID:      "confirm.elevated-risk",
				MinRisk: 0.4,
				Action:  "confirm",
				Reason:  "elevated risk requires human confirmation",
			},
			{
				ID:      "allow.low-risk",
				MaxRisk: 0.4,
				Action:  "allow",
				Reason:  "risk below the enforcement band",
			},
		},
	}
}

// Load reads policy configuration from a YAML file. Empty path falls back
// to ~/.gatewatch/policy.yaml. Missing file returns defaults. Invalid YAML
// or an invalid rule set returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads policy configuration and returns the SHA-256 of the
// raw YAML bytes, used to stamp every decision with the policy version.
// When no file exists (defaults used), the hash is the SHA-256 of empty
// input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return prepared(DefaultConfig(), emptyHash())
		}
		path = filepath.Join(home, ".gatewatch", "policy.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prepared(DefaultConfig(), emptyHash())
		}
		return nil, "", fmt.Errorf("read policy config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("parse policy config: %w", err)
	}
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = "confirm"
	}

	h := sha256.Sum256(data)
	return prepared(cfg, "sha256:"+hex.EncodeToString(h[:]))
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// prepared normalizes and validates a loaded config.
func prepared(cfg *Config, hash string) (*Config, string, error) {
	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// normalize fixes rule ordering and unset bounds.
func normalize(cfg *Config) {
	for i := range cfg.Rules {
		if cfg.Rules[i].MaxRisk == 0 {
			cfg.Rules[i].MaxRisk = 1.0
		}
	}
	sort.SliceStable(cfg.Rules, func(i, j int) bool {
		return cfg.Rules[i].Priority < cfg.Rules[j].Priority
	})
}

// validate enforces the fail-closed contract on the rule set itself.
func validate(cfg *Config) error {
	if _, ok := parseAction(cfg.DefaultAction); !ok {
		return fmt.Errorf("policy: unknown default_action %q", cfg.DefaultAction)
	}
	if cfg.DefaultAction == "allow" && !cfg.AllowUnmatched {
		return fmt.Errorf("policy: default_action allow requires allow_unmatched: true")
	}
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return fmt.Errorf("policy: rule %d has no id", i)
		}
		if _, ok := parseAction(r.Action); !ok {
			return fmt.Errorf("policy: rule %q has unknown action %q", r.ID, r.Action)
		}
		if r.MinRisk < 0 || r.MaxRisk > 1 || r.MinRisk > r.MaxRisk {
			return fmt.Errorf("policy: rule %q has invalid risk bounds [%v, %v]", r.ID, r.MinRisk, r.MaxRisk)
		}
	}
	return nil
}

// parseAction maps a config string to an Action. Fail-closed: unknown
// strings do not parse, and callers treat that as BLOCK.
func parseAction(s string) (model.Action, bool) {
	switch s {
	case "allow":
		return model.ActionAllow, true
	case "block":
		return model.ActionBlock, true
	case "confirm":
		return model.ActionConfirm, true
	default:
		return model.ActionBlock, false
	}
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# gatewatch policy configuration
# Generated by: gatewatch init-policy
#
# Rules are evaluated in priority order (lower number first, ties keep file
# order). The first rule whose predicate matches wins. If nothing matches,
# default_action applies.
#
# Rule fields:
#   id: unique rule identifier (stamped on every decision it produces)
#   priority: evaluation order, lower first (optional, default 0)
#   min_risk / max_risk: aggregate risk band, 0.0-1.0 (max_risk 0 = no bound)
#   min_confidence: minimum aggregate confidence
#   threats: threat categories this rule applies to (empty = any)
#   clients / tools: glob patterns on request metadata (empty = any)
#   action: allow | block | confirm
#   reason: human-readable explanation carried into the audit record

default_action: confirm
# default_action allow is refused unless you also set allow_unmatched: true.

rules:
  - id: block.critical-risk
    min_risk: 0.8
    action: block
    reason: "risk score in the critical band"

  - id: block.confident-threat
    min_risk: 0.6
    min_confidence: 0.8
    action: block
    reason: "confident detection above the block threshold"

  - id: block.exfiltration
    min_risk: 0.5
    threats: [data_exfiltration]
    action: block
    reason: "suspected data exfiltration is never waved through"

  - id: confirm.elevated-risk
    min_risk: 0.4
    action: confirm
    reason: "elevated risk requires human confirmation"

  - id: allow.low-risk
    max_risk: 0.4
    action: allow
    reason: "risk below the enforcement band"
`
}
