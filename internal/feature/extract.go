// Package feature implements the upstream boundary of the decision engine:
// validation of externally supplied feature vectors and a reference
// extractor used by the serving surfaces when the caller submits raw
// request material instead of a pre-extracted vector.
package feature

import (
	"math"
	"strings"
	"unicode"

	"github.com/ppiankov/gatewatch/internal/model"
)

// Request is the raw inspection input accepted by the gateway surfaces.
type Request struct {
	Prompt   string `json:"prompt"`
	ToolCall string `json:"tool_call,omitempty"`
	Context  string `json:"context,omitempty"`
	ClientID string `json:"client_id"`
	Tool     string `json:"tool,omitempty"`
}

// categoryKeywords drive the kw_* hit-count features the fast screen
// scores on. Lowercase substrings, deliberately broad — the cheap tier is
// a screen, not a verdict.
var categoryKeywords = map[string][]string{
	"kw_prompt_injection": {
		"ignore previous", "ignore all previous", "disregard the above",
		"system prompt", "your instructions", "jailbreak",
	},
	"kw_data_exfiltration": {
		"password", "api key", "api_key", "secret", "credentials",
		"exfiltrate", ".env", "private key",
	},
	"kw_agent_hijacking": {
		"you are now", "developer mode", "act as", "pretend you",
		"no restrictions",
	},
	"kw_resource_dos": {
		"fork bomb", "infinite loop", "while true", "allocate",
	},
	"kw_tool_abuse": {
		"rm -rf", "mkfs", "dd if=", "chmod 777", "shutdown",
	},
	"kw_context_poisoning": {
		"<system>", "<instruction>", "remember this for later",
		"in future responses",
	},
}

// Extract builds a schema-1 FeatureVector from raw request material.
func Extract(req Request) *model.FeatureVector {
	text := strings.ToLower(req.Prompt + "\n" + req.ToolCall + "\n" + req.Context)

	numeric := map[string]float64{
		"prompt_len":         float64(len(req.Prompt)),
		"tool_call_len":      float64(len(req.ToolCall)),
		"entropy":            shannonEntropy(req.Prompt),
		"special_char_ratio": specialCharRatio(req.Prompt),
	}
	for feat, words := range categoryKeywords {
		hits := 0.0
		for _, w := range words {
			hits += float64(strings.Count(text, w))
		}
		numeric[feat] = hits
	}

	return &model.FeatureVector{
		Schema:  model.SchemaVersion,
		Numeric: numeric,
		Categorical: map[string]string{
			"client_id": req.ClientID,
			"tool":      req.Tool,
		},
		Raw: model.RawArtifacts{
			Prompt:   req.Prompt,
			ToolCall: req.ToolCall,
			Context:  req.Context,
		},
	}
}

// shannonEntropy computes byte-level entropy in bits. Encoded or compressed
// payloads push this well above natural language (~4.0-4.5).
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	entropy := 0.0
	n := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// specialCharRatio is the share of runes that are neither letters, digits,
// nor spaces.
func specialCharRatio(s string) float64 {
	if s == "" {
		return 0
	}
	special, total := 0, 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return float64(special) / float64(total)
}
