package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/gatewatch/internal/engine"
	"github.com/ppiankov/gatewatch/internal/feature"
	"github.com/ppiankov/gatewatch/internal/metrics"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/tracer"
)

// --- Input/Output types ---

// AnalyzeInput defines parameters for the gatewatch_analyze tool.
type AnalyzeInput struct {
	Prompt   string `json:"prompt,omitempty" jsonschema:"natural language prompt under inspection"`
	ToolCall string `json:"tool_call,omitempty" jsonschema:"serialized tool call under inspection"`
	Context  string `json:"context,omitempty" jsonschema:"conversation context accompanying the request"`
	ClientID string `json:"client_id,omitempty" jsonschema:"caller identity"`
	Tool     string `json:"tool,omitempty" jsonschema:"tool name being invoked"`
}

// AnalyzeOutput carries the decision and its causal trace.
type AnalyzeOutput struct {
	RequestID     string             `json:"request_id"`
	Decision      string             `json:"decision"`
	RiskScore     float64            `json:"risk_score"`
	Confidence    float64            `json:"confidence"`
	ThreatType    string             `json:"threat_type"`
	MatchedRuleID string             `json:"matched_rule_id"`
	Explanation   string             `json:"explanation"`
	Trace         []model.TierResult `json:"trace"`
	Partial       bool               `json:"partial,omitempty"`
	FailClosed    bool               `json:"fail_closed,omitempty"`
	ProcessingMS  float64            `json:"processing_time_ms"`
}

// ConfirmInput defines parameters for the gatewatch_confirm tool.
type ConfirmInput struct {
	RequestID string `json:"request_id" jsonschema:"request id from a CONFIRM decision"`
	Deny      bool   `json:"deny,omitempty" jsonschema:"deny instead of approving"`
	Duration  string `json:"duration,omitempty" jsonschema:"approval duration (e.g. 5m), omit for one-time approval"`
}

// ConfirmOutput reports the resolution.
type ConfirmOutput struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Duration  string `json:"duration,omitempty"`
}

// PendingInput is empty.
type PendingInput struct{}

// PendingOutput lists unresolved CONFIRM decisions.
type PendingOutput struct {
	Pending []PendingItem `json:"pending"`
}

// PendingItem describes one parked request.
type PendingItem struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason"`
	RuleID    string  `json:"rule_id"`
	ClientID  string  `json:"client_id,omitempty"`
	Tool      string  `json:"tool,omitempty"`
	Risk      float64 `json:"risk"`
	CreatedAt string  `json:"created_at"`
}

// MetricsInput is empty.
type MetricsInput struct{}

// --- Handlers ---

func (s *Server) handleAnalyze(ctx context.Context, req *mcpsdk.CallToolRequest, input AnalyzeInput) (*mcpsdk.CallToolResult, AnalyzeOutput, error) {
	return s.runAnalysis(ctx, s.gw.Engine, input)
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input AnalyzeInput) (*mcpsdk.CallToolResult, AnalyzeOutput, error) {
	return s.runAnalysis(ctx, s.gw.Check, input)
}

func (s *Server) runAnalysis(ctx context.Context, eng *engine.Engine, input AnalyzeInput) (*mcpsdk.CallToolResult, AnalyzeOutput, error) {
	if input.Prompt == "" && input.ToolCall == "" {
		return nil, AnalyzeOutput{}, fmt.Errorf("prompt or tool_call required")
	}

	fv := feature.Extract(feature.Request{
		Prompt:   input.Prompt,
		ToolCall: input.ToolCall,
		Context:  input.Context,
		ClientID: input.ClientID,
		Tool:     input.Tool,
	})
	meta := model.RequestMeta{
		RequestID: tracer.NewRequestID(),
		ClientID:  input.ClientID,
		Tool:      input.Tool,
	}

	d := eng.Analyze(ctx, fv, meta)
	out := AnalyzeOutput{
		RequestID:     d.RequestID,
		Decision:      string(d.Action),
		RiskScore:     d.Score.Risk,
		Confidence:    d.Score.Confidence,
		ThreatType:    string(d.Score.Threat),
		MatchedRuleID: d.MatchedRuleID,
		Explanation:   d.Reason,
		Trace:         d.Trace(),
		Partial:       d.Flags.Partial,
		FailClosed:    d.Flags.FailClosed,
		ProcessingMS:  float64(d.Processing.Microseconds()) / 1000.0,
	}
	result := &mcpsdk.CallToolResult{IsError: d.Action == model.ActionBlock}
	return result, out, nil
}

func (s *Server) handleConfirm(ctx context.Context, req *mcpsdk.CallToolRequest, input ConfirmInput) (*mcpsdk.CallToolResult, ConfirmOutput, error) {
	if s.gw.Confirms == nil {
		return nil, ConfirmOutput{}, fmt.Errorf("confirmation store not configured")
	}
	if input.RequestID == "" {
		return nil, ConfirmOutput{}, fmt.Errorf("request_id required")
	}

	if input.Deny {
		if err := s.gw.Confirms.Deny(input.RequestID); err != nil {
			return nil, ConfirmOutput{}, err
		}
		return nil, ConfirmOutput{RequestID: input.RequestID, Status: "denied"}, nil
	}

	var ttl time.Duration
	if input.Duration != "" {
		var err error
		ttl, err = time.ParseDuration(input.Duration)
		if err != nil {
			return nil, ConfirmOutput{}, fmt.Errorf("invalid duration %q: %w", input.Duration, err)
		}
	}
	if err := s.gw.Confirms.Confirm(input.RequestID, ttl); err != nil {
		return nil, ConfirmOutput{}, err
	}
	out := ConfirmOutput{RequestID: input.RequestID, Status: "confirmed"}
	if ttl > 0 {
		out.Duration = ttl.String()
	}
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	if s.gw.Confirms == nil {
		return nil, PendingOutput{}, fmt.Errorf("confirmation store not configured")
	}
	list, err := s.gw.Confirms.List()
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{Pending: make([]PendingItem, 0, len(list))}
	for _, c := range list {
		out.Pending = append(out.Pending, PendingItem{
			RequestID: c.Key,
			Status:    string(c.Status),
			Reason:    c.Reason,
			RuleID:    c.RuleID,
			ClientID:  c.ClientID,
			Tool:      c.Tool,
			Risk:      c.Risk,
			CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleMetrics(ctx context.Context, req *mcpsdk.CallToolRequest, input MetricsInput) (*mcpsdk.CallToolResult, metrics.Snapshot, error) {
	return nil, s.gw.Engine.Metrics().Snapshot(), nil
}
