package model

import (
	"errors"
	"fmt"
)

// SchemaVersion identifies the feature vector layout produced upstream.
// The engine supports an explicit set of versions and fails closed on
// anything else.
const SchemaVersion = 1

// ErrSchemaMismatch is returned when a feature vector does not satisfy the
// upstream extraction contract. Requests carrying such a vector resolve to a
// fail-closed decision, never a fault.
var ErrSchemaMismatch = errors.New("feature vector schema mismatch")

// RawArtifacts reference the original request material. Used only for
// explanation and deep-tier analysis, never for numeric scoring.
type RawArtifacts struct {
	Prompt   string `json:"prompt,omitempty"`
	ToolCall string `json:"tool_call,omitempty"`
	Context  string `json:"context,omitempty"`
}

// FeatureVector is the fixed-shape input to the inference pipeline. It is
// produced by the external feature extractor, created once per request, and
// read-only for the engine's lifetime of that request.
type FeatureVector struct {
	Schema int `json:"schema"`

	// Numeric features, fixed names.
	Numeric map[string]float64 `json:"numeric"`

	// Categorical features, fixed names.
	Categorical map[string]string `json:"categorical,omitempty"`

	// Embedding is an optional dense representation supplied upstream.
	Embedding []float64 `json:"embedding,omitempty"`

	Raw RawArtifacts `json:"raw"`
}

// requiredNumeric are the numeric fields every schema-1 vector must carry.
var requiredNumeric = []string{
	"prompt_len",
	"tool_call_len",
	"entropy",
	"special_char_ratio",
}

// Validate checks the vector against the supported schema. All violations
// wrap ErrSchemaMismatch so callers can detect the contract break with
// errors.Is.
func (fv *FeatureVector) Validate() error {
	if fv == nil {
		return fmt.Errorf("%w: nil vector", ErrSchemaMismatch)
	}
	if fv.Schema != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrSchemaMismatch, fv.Schema)
	}
	if fv.Numeric == nil {
		return fmt.Errorf("%w: missing numeric fields", ErrSchemaMismatch)
	}
	for _, name := range requiredNumeric {
		if _, ok := fv.Numeric[name]; !ok {
			return fmt.Errorf("%w: missing numeric field %q", ErrSchemaMismatch, name)
		}
	}
	return nil
}

// Num returns a numeric feature, or 0 if absent.
func (fv *FeatureVector) Num(name string) float64 {
	return fv.Numeric[name]
}

// Cat returns a categorical feature, or "" if absent.
func (fv *FeatureVector) Cat(name string) string {
	return fv.Categorical[name]
}
