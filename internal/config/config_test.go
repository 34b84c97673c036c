package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/gatewatch/internal/detector"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("built-in config must validate: %v", err)
	}
	if cfg.Budget != 100*time.Millisecond {
		t.Errorf("budget = %v", cfg.Budget)
	}
	if len(cfg.Tiers) != 2 {
		t.Errorf("expected two built-in tiers, got %d", len(cfg.Tiers))
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FailAction != "block" {
		t.Errorf("fail_action = %s", cfg.FailAction)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
budget: 250ms
thresholds:
  high_confidence: 0.9
  low_risk: 0.1
  high_risk: 0.8
tiers:
  - name: screen
    detector: heuristic
    priority: 1
    timeout: 5ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Budget != 250*time.Millisecond {
		t.Errorf("duration string not decoded: %v", cfg.Budget)
	}
	if cfg.Thresholds.HighConfidence != 0.9 {
		t.Errorf("thresholds not overlaid: %v", cfg.Thresholds)
	}
	// Untouched settings keep their defaults.
	if cfg.FailAction != "block" {
		t.Errorf("fail_action = %s", cfg.FailAction)
	}
	if cfg.Fallback.Risk != 0.7 {
		t.Errorf("fallback = %v", cfg.Fallback)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.Budget = 0 }},
		{"allow fail action", func(c *Config) { c.FailAction = "allow" }},
		{"inverted risk thresholds", func(c *Config) { c.Thresholds.LowRisk = 0.9 }},
		{"fallback out of range", func(c *Config) { c.Fallback.Risk = 1.5 }},
		{"no tiers", func(c *Config) { c.Tiers = nil }},
		{"duplicate tier name", func(c *Config) { c.Tiers[1].Name = c.Tiers[0].Name }},
		{"zero tier timeout", func(c *Config) { c.Tiers[0].Timeout = 0 }},
		{"unknown detector", func(c *Config) { c.Tiers[0].Detector = "oracle" }},
		{"llm without endpoint", func(c *Config) { c.Tiers[0].Detector = "llm" }},
		{"bedrock without model id", func(c *Config) {
			c.Tiers[0].Detector = "bedrock"
			c.Tiers[0].Bedrock = &detector.BedrockConfig{Region: "us-east-1"}
		}},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "fail_action: allow\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for allow fail_action")
	}
}

func TestRouterSpecsMirrorTiers(t *testing.T) {
	cfg := Default()
	specs := cfg.RouterSpecs()
	if len(specs) != len(cfg.Tiers) {
		t.Fatalf("spec count = %d", len(specs))
	}
	for i, s := range specs {
		if s.Name != cfg.Tiers[i].Name || s.Priority != cfg.Tiers[i].Priority || s.Timeout != cfg.Tiers[i].Timeout {
			t.Errorf("spec %d = %+v, tier = %+v", i, s, cfg.Tiers[i])
		}
	}
}

func TestDefaultYAMLRoundTrips(t *testing.T) {
	path := writeConfig(t, DefaultYAML())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("scaffold config must load: %v", err)
	}
	if cfg.Budget != 100*time.Millisecond || len(cfg.Tiers) != 2 {
		t.Errorf("scaffold does not match built-ins: %+v", cfg)
	}
}
