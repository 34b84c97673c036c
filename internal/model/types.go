package model

import "time"

// ThreatType classifies the kind of attack a request is suspected of.
type ThreatType string

const (
	ThreatBenign           ThreatType = "benign"
	ThreatPromptInjection  ThreatType = "prompt_injection"
	ThreatDataExfiltration ThreatType = "data_exfiltration"
	ThreatAgentHijacking   ThreatType = "agent_hijacking"
	ThreatResourceDoS      ThreatType = "resource_dos"
	ThreatToolAbuse        ThreatType = "tool_abuse"
	ThreatContextPoisoning ThreatType = "context_poisoning"
)

// KnownThreats lists every threat type the engine recognizes.
var KnownThreats = []ThreatType{
	ThreatBenign,
	ThreatPromptInjection,
	ThreatDataExfiltration,
	ThreatAgentHijacking,
	ThreatResourceDoS,
	ThreatToolAbuse,
	ThreatContextPoisoning,
}

// Action is the enforcement outcome returned to the caller.
type Action string

const (
	ActionAllow   Action = "ALLOW"
	ActionBlock   Action = "BLOCK"
	ActionConfirm Action = "CONFIRM"
)

// TierStatus describes how a tier invocation ended.
type TierStatus string

const (
	TierCompleted TierStatus = "COMPLETED"
	TierTimedOut  TierStatus = "TIMED_OUT"
	TierErrored   TierStatus = "ERRORED"
	// TierSkipped marks a tier that had no active model when the router
	// reached it. Skipped results never contribute to the aggregate.
	TierSkipped TierStatus = "SKIPPED"
)

// Attribution is one feature's signed contribution to a tier's output.
type Attribution struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// TierResult is the immutable outcome of one tier invocation.
// Failures are expressed as data (Status + Fallback), never as errors.
type TierResult struct {
	Tier         string        `json:"tier"`
	ModelVersion string        `json:"model_version"`
	Risk         float64       `json:"risk"`
	Confidence   float64       `json:"confidence"`
	Threat       ThreatType    `json:"threat"`
	Latency      time.Duration `json:"latency_ns"`
	Attributions []Attribution `json:"attributions,omitempty"`
	Status       TierStatus    `json:"status"`
	// Fallback is set when Risk/Confidence are the configured conservative
	// values rather than a real model output.
	Fallback bool `json:"fallback,omitempty"`
}

// Contributes reports whether the result carries scoring weight.
func (tr TierResult) Contributes() bool {
	return tr.Status != TierSkipped
}

// AggregateScore combines tier results into one calibrated risk estimate.
// Derived by the aggregator; never mutated independently.
type AggregateScore struct {
	Risk       float64      `json:"risk"`
	Confidence float64      `json:"confidence"`
	Threat     ThreatType   `json:"threat"`
	Results    []TierResult `json:"results"`
}

// RequestMeta identifies the request being inspected.
type RequestMeta struct {
	RequestID  string    `json:"request_id"`
	ClientID   string    `json:"client_id"`
	Tool       string    `json:"tool,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// DecisionFlags mark decisions that did not follow the normal scoring path.
type DecisionFlags struct {
	// Partial is set when the router stopped escalating on budget exhaustion.
	Partial bool `json:"partial,omitempty"`
	// FailClosed is set when the action is a safe default triggered by a
	// failure rather than derived from tier evidence.
	FailClosed bool `json:"fail_closed,omitempty"`
	// SchemaMismatch is set when the upstream feature contract was violated.
	SchemaMismatch bool `json:"schema_mismatch,omitempty"`
	// Granted is set when a CONFIRM verdict was lifted to ALLOW by a
	// consumed operator grant.
	Granted bool `json:"granted,omitempty"`
}

// Decision is the terminal record for one request: the enforcement action,
// the matched rule, and the full causal trace. Written once, never updated;
// corrections are recorded as new decisions referencing the old request id.
type Decision struct {
	RequestID     string         `json:"request_id"`
	Action        Action         `json:"action"`
	MatchedRuleID string         `json:"matched_rule_id"`
	Reason        string         `json:"reason"`
	Score         AggregateScore `json:"score"`
	Meta          RequestMeta    `json:"meta"`
	Flags         DecisionFlags  `json:"flags"`
	DecidedAt     time.Time      `json:"decided_at"`
	Processing    time.Duration  `json:"processing_ns"`
}

// Trace returns the ordered tier results behind this decision.
func (d *Decision) Trace() []TierResult {
	return d.Score.Results
}
