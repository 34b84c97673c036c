// Package server exposes the inspection pipeline over HTTP: an analysis
// endpoint for gateway callers plus health, metrics, and a small admin
// surface for policy reload and model activation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/gatewatch/internal/feature"
	"github.com/ppiankov/gatewatch/internal/gateway"
	"github.com/ppiankov/gatewatch/internal/model"
	"github.com/ppiankov/gatewatch/internal/tracer"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// Server serves the analysis and admin API for one gateway instance.
type Server struct {
	gw   *gateway.Gateway
	log  *slog.Logger
	http *http.Server
}

// New creates a server around an assembled gateway.
func New(cfg Config, gw *gateway.Gateway, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{gw: gw, log: log}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/analyze", s.analyze)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/policy/reload", s.reloadPolicy)
		r.Get("/models", s.listModels)
		r.Post("/models/activate", s.activateModel)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.log.Info("http server listening", "addr", s.http.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ReloadPolicy re-reads the policy file into the live engine. Exposed so
// the file watcher can trigger it.
func (s *Server) ReloadPolicy() error {
	return s.gw.ReloadPolicy()
}

// analyzeRequest is the wire form of an inspection request.
type analyzeRequest struct {
	Prompt   string `json:"prompt"`
	ToolCall string `json:"tool_call,omitempty"`
	Context  string `json:"context,omitempty"`
	ClientID string `json:"client_id"`
	Tool     string `json:"tool,omitempty"`
}

// analyzeResponse is the wire form of a decision.
type analyzeResponse struct {
	RequestID      string             `json:"request_id"`
	Decision       model.Action       `json:"decision"`
	RiskScore      float64            `json:"risk_score"`
	Confidence     float64            `json:"confidence"`
	ThreatType     model.ThreatType   `json:"threat_type"`
	MatchedRuleID  string             `json:"matched_rule_id"`
	Explanation    string             `json:"explanation"`
	Trace          []model.TierResult `json:"trace"`
	Partial        bool               `json:"partial,omitempty"`
	FailClosed     bool               `json:"fail_closed,omitempty"`
	ProcessingTime float64            `json:"processing_time_ms"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Prompt == "" && req.ToolCall == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "prompt or tool_call required"})
		return
	}

	fv := feature.Extract(feature.Request{
		Prompt:   req.Prompt,
		ToolCall: req.ToolCall,
		Context:  req.Context,
		ClientID: req.ClientID,
		Tool:     req.Tool,
	})
	meta := model.RequestMeta{
		RequestID: tracer.NewRequestID(),
		ClientID:  req.ClientID,
		Tool:      req.Tool,
	}

	d := s.gw.Engine.Analyze(r.Context(), fv, meta)
	writeJSON(w, http.StatusOK, decisionResponse(d))
}

func decisionResponse(d *model.Decision) analyzeResponse {
	return analyzeResponse{
		RequestID:      d.RequestID,
		Decision:       d.Action,
		RiskScore:      d.Score.Risk,
		Confidence:     d.Score.Confidence,
		ThreatType:     d.Score.Threat,
		MatchedRuleID:  d.MatchedRuleID,
		Explanation:    d.Reason,
		Trace:          d.Trace(),
		Partial:        d.Flags.Partial,
		FailClosed:     d.Flags.FailClosed,
		ProcessingTime: float64(d.Processing.Microseconds()) / 1000.0,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"tiers":       s.gw.Registry.Tiers(),
		"policy_hash": s.gw.Policy.Hash(),
	})
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Engine.Metrics().Snapshot())
}

func (s *Server) reloadPolicy(w http.ResponseWriter, _ *http.Request) {
	if err := s.gw.ReloadPolicy(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy_hash": s.gw.Policy.Hash()})
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"versions": s.gw.Registry.Versions()})
}

// activateModel flips a tier's active version. Only versions built into the
// binary can be activated over the API; external model weights are a config
// concern.
func (s *Server) activateModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier    string `json:"tier"`
		Disable bool   `json:"disable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Tier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "tier required"})
		return
	}
	if !req.Disable {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "only disable is supported over the API"})
		return
	}
	if _, err := s.gw.Registry.Resolve(req.Tier); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	s.gw.Registry.Deactivate(req.Tier)
	s.log.Info("tier deactivated", "tier", req.Tier)
	writeJSON(w, http.StatusOK, map[string]any{"versions": s.gw.Registry.Versions()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
