package policy

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func FuzzConfigYAML(f *testing.F) {
	f.Add([]byte(DefaultConfigYAML()))
	f.Add([]byte(`rules:
  - id: allow.all
    action: allow
    max_risk: 0.3
`))
	f.Add([]byte{})
	f.Add([]byte(`{{{not yaml at all`))
	f.Add([]byte(`default_action: allow`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic on any input; validation errors are fine.
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return
		}
		normalize(&cfg)
		_ = validate(&cfg)
	})
}
