// Package config defines the engine-level configuration surface: tier
// layout, escalation thresholds, latency budget, fallback values, and sink
// paths. Policy rules live in their own file (internal/policy) so they can
// hot-reload independently.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/gatewatch/internal/aggregate"
	"github.com/ppiankov/gatewatch/internal/alert"
	"github.com/ppiankov/gatewatch/internal/detector"
	"github.com/ppiankov/gatewatch/internal/router"
	"github.com/ppiankov/gatewatch/internal/tier"
)

// TierConfig declares one classification tier.
type TierConfig struct {
	Name     string        `yaml:"name"`
	Detector string        `yaml:"detector"` // heuristic | signature | llm | bedrock
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`
	Version  string        `yaml:"version,omitempty"`

	// Detector-specific settings; only the block matching Detector is read.
	Heuristic *detector.HeuristicWeights `yaml:"heuristic,omitempty"`
	LLM       *detector.LLMConfig        `yaml:"llm,omitempty"`
	Bedrock   *detector.BedrockConfig    `yaml:"bedrock,omitempty"`
}

// Config is the whole engine configuration.
type Config struct {
	Budget     time.Duration     `yaml:"budget"`
	FailAction string            `yaml:"fail_action"`
	Thresholds router.Thresholds `yaml:"thresholds"`
	Fallback   tier.Fallback     `yaml:"fallback"`
	Aggregate  aggregate.Config  `yaml:"aggregate"`

	Tiers []TierConfig `yaml:"tiers"`

	PolicyPath string                `yaml:"policy_path"`
	AuditLog   string                `yaml:"audit_log"`
	DecisionDB string                `yaml:"decision_db"`
	ConfirmDir string                `yaml:"confirm_dir"`
	Alerts     []alert.WebhookConfig `yaml:"alerts"`
}

// Default returns the built-in configuration: two cheap local tiers, a
// 100ms budget, conservative fallbacks. Deep tiers are opt-in since they
// need endpoints.
func Default() *Config {
	return &Config{
		Budget:     100 * time.Millisecond,
		FailAction: "block",
		Thresholds: router.DefaultThresholds(),
		Fallback:   tier.DefaultFallback(),
		Aggregate:  aggregate.DefaultConfig(),
		Tiers: []TierConfig{
			{Name: "screen", Detector: "heuristic", Priority: 1, Timeout: 10 * time.Millisecond},
			{Name: "signatures", Detector: "signature", Priority: 2, Timeout: 25 * time.Millisecond},
		},
	}
}

// Load reads the engine config from a YAML file. Empty path falls back to
// ~/.gatewatch/config.yaml. Missing file returns defaults. Settings in the
// file overlay the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, ".gatewatch", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read engine config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break the engine's contracts.
func (c *Config) Validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("config: budget must be positive")
	}
	switch c.FailAction {
	case "block", "confirm":
	default:
		return fmt.Errorf("config: fail_action must be block or confirm, got %q", c.FailAction)
	}
	t := c.Thresholds
	if t.HighConfidence <= 0 || t.HighConfidence > 1 {
		return fmt.Errorf("config: thresholds.high_confidence out of (0,1]")
	}
	if t.LowRisk < 0 || t.HighRisk > 1 || t.LowRisk >= t.HighRisk {
		return fmt.Errorf("config: risk thresholds must satisfy 0 <= low_risk < high_risk <= 1")
	}
	if c.Fallback.Risk < 0 || c.Fallback.Risk > 1 || c.Fallback.Confidence < 0 || c.Fallback.Confidence > 1 {
		return fmt.Errorf("config: fallback values out of [0,1]")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: at least one tier is required")
	}
	seen := map[string]bool{}
	for i, tc := range c.Tiers {
		if tc.Name == "" {
			return fmt.Errorf("config: tier %d has no name", i)
		}
		if seen[tc.Name] {
			return fmt.Errorf("config: duplicate tier name %q", tc.Name)
		}
		seen[tc.Name] = true
		if tc.Timeout <= 0 {
			return fmt.Errorf("config: tier %q needs a positive timeout", tc.Name)
		}
		switch tc.Detector {
		case "heuristic", "signature":
		case "llm":
			if tc.LLM == nil || tc.LLM.APIURL == "" {
				return fmt.Errorf("config: tier %q needs llm.api_url", tc.Name)
			}
		case "bedrock":
			if tc.Bedrock == nil || tc.Bedrock.ModelID == "" {
				return fmt.Errorf("config: tier %q needs bedrock.model_id", tc.Name)
			}
		default:
			return fmt.Errorf("config: tier %q has unknown detector %q", tc.Name, tc.Detector)
		}
	}
	return nil
}

// RouterSpecs converts the tier layout into router specs.
func (c *Config) RouterSpecs() []router.TierSpec {
	specs := make([]router.TierSpec, len(c.Tiers))
	for i, tc := range c.Tiers {
		specs[i] = router.TierSpec{Name: tc.Name, Priority: tc.Priority, Timeout: tc.Timeout}
	}
	return specs
}

// DefaultYAML returns a commented YAML string for the init scaffold.
func DefaultYAML() string {
	return `# gatewatch engine configuration
# Generated by: gatewatch init
#
# All thresholds and fallback values are deployment-tunable.

# Per-request latency budget. The fast tier always runs; deeper tiers run
# only while the remaining budget covers their rolling latency estimate.
budget: 100ms

# Safe default on failure paths (schema mismatch, no evidence within
# budget). Must be block or confirm — never allow.
fail_action: block

# Escalation cut-offs: a tier result ends escalation when its confidence
# reaches high_confidence AND its risk is below low_risk or above high_risk.
thresholds:
  high_confidence: 0.85
  low_risk: 0.1
  high_risk: 0.8

# Values substituted when a tier times out or errors.
fallback:
  risk: 0.7
  confidence: 0.2

# Weight a failed tier contributes at in the aggregate (kept low so a dead
# tier can tilt but never dominate).
aggregate:
  failed_weight: 0.15

# Classification tiers in escalation order (priority ascending; ties keep
# registration order). Detectors: heuristic | signature | llm | bedrock.
tiers:
  - name: screen
    detector: heuristic
    priority: 1
    timeout: 10ms

  - name: signatures
    detector: signature
    priority: 2
    timeout: 25ms

  # Deep tiers are opt-in: uncomment and point at your endpoint.
  # - name: deep
  #   detector: llm
  #   priority: 3
  #   timeout: 2s
  #   llm:
  #     api_url: http://localhost:11434/v1/chat/completions
  #     model: qwen2.5:7b
  #
  # - name: bedrock
  #   detector: bedrock
  #   priority: 4
  #   timeout: 3s
  #   bedrock:
  #     region: us-east-1
  #     model_id: anthropic.claude-3-haiku-20240307-v1:0

# Optional sinks. Empty paths disable a sink.
# policy_path: ~/.gatewatch/policy.yaml is the default when empty.
policy_path: ""
audit_log: ""
decision_db: ""
confirm_dir: ""

# Webhooks fired per decision; actions filters which decisions fire.
alerts: []
#  - url: https://hooks.example.com/gatewatch
#    actions: [BLOCK, CONFIRM]
`
}
