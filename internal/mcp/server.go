// Package mcp exposes the inspection pipeline as an MCP stdio server, so
// agent runtimes can ask for decisions through the protocol they already
// speak.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/gatewatch/internal/gateway"
)

// Config holds MCP server configuration.
type Config struct {
	ConfigPath string
	PolicyPath string
}

// Server wraps the MCP SDK server around an assembled gateway.
type Server struct {
	mcpServer *mcpsdk.Server
	gw        *gateway.Gateway
	log       *slog.Logger
}

// New builds the gateway and registers the inspection tools.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	gw, err := gateway.Build(ctx, gateway.Options{
		ConfigPath: cfg.ConfigPath,
		PolicyPath: cfg.PolicyPath,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{gw: gw, log: log}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "gatewatch",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close flushes the gateway's sinks.
func (s *Server) Close() error {
	return s.gw.Close()
}

// registerTools adds all gatewatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gatewatch_analyze",
		Description: "Analyze an MCP request for threats and get an enforcement decision (ALLOW/BLOCK/CONFIRM). The decision is recorded.",
	}, s.handleAnalyze)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gatewatch_check",
		Description: "Dry-run analysis: same tiers and policy as gatewatch_analyze but nothing is recorded and no confirmation is opened.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gatewatch_confirm",
		Description: "Resolve a pending CONFIRM decision by request id: approve it (optionally for a duration) or deny it.",
	}, s.handleConfirm)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gatewatch_pending",
		Description: "List pending CONFIRM decisions awaiting human resolution.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gatewatch_metrics",
		Description: "Report pipeline counters: requests processed, decision and threat counts, average processing time.",
	}, s.handleMetrics)
}
