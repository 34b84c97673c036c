package audit

import "github.com/ppiankov/gatewatch/internal/model"

// TierLine is the flattened per-tier trace carried in an audit entry.
type TierLine struct {
	Tier         string              `json:"tier"`
	ModelVersion string              `json:"model_version,omitempty"`
	Risk         float64             `json:"risk"`
	Confidence   float64             `json:"confidence"`
	Status       string              `json:"status"`
	LatencyMS    float64             `json:"latency_ms"`
	Attributions []model.Attribution `json:"attributions,omitempty"`
}

// Entry is one line in the hash-chained JSONL decision log. All fields are
// structs (no map[string]any) to guarantee deterministic json.Marshal field
// order for reproducible hashing.
type Entry struct {
	Timestamp  string     `json:"ts"`
	RequestID  string     `json:"request_id"`
	ClientID   string     `json:"client_id,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Action     string     `json:"action"`
	RuleID     string     `json:"rule_id"`
	Reason     string     `json:"reason"`
	Risk       float64    `json:"risk"`
	Confidence float64    `json:"confidence"`
	Threat     string     `json:"threat"`
	Trace      []TierLine `json:"trace"`
	Partial    bool       `json:"partial,omitempty"`
	FailClosed bool       `json:"fail_closed,omitempty"`
	PolicyHash string     `json:"policy_hash"`
	PrevHash   string     `json:"prev_hash"`
}

// FromDecision flattens a decision into its audit entry. PolicyHash,
// Timestamp, and PrevHash are stamped by the log on write.
func FromDecision(d *model.Decision) Entry {
	e := Entry{
		RequestID:  d.RequestID,
		ClientID:   d.Meta.ClientID,
		Tool:       d.Meta.Tool,
		Action:     string(d.Action),
		RuleID:     d.MatchedRuleID,
		Reason:     d.Reason,
		Risk:       d.Score.Risk,
		Confidence: d.Score.Confidence,
		Threat:     string(d.Score.Threat),
		Partial:    d.Flags.Partial,
		FailClosed: d.Flags.FailClosed,
	}
	for _, tr := range d.Score.Results {
		e.Trace = append(e.Trace, TierLine{
			Tier:         tr.Tier,
			ModelVersion: tr.ModelVersion,
			Risk:         tr.Risk,
			Confidence:   tr.Confidence,
			Status:       string(tr.Status),
			LatencyMS:    float64(tr.Latency.Microseconds()) / 1000.0,
			Attributions: tr.Attributions,
		})
	}
	return e
}
