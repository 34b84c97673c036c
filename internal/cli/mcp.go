package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gwmcp "github.com/ppiankov/gatewatch/internal/mcp"
)

var (
	mcpConfig string
	mcpPolicy string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpConfig, "config", "", "Path to engine config YAML")
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs gatewatch as an MCP (Model Context Protocol) server over stdio.\nExposes inspection tools: analyze, check, confirm, pending, metrics.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the MCP transport; logs must go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := gwmcp.New(ctx, gwmcp.Config{
		ConfigPath: mcpConfig,
		PolicyPath: mcpPolicy,
	}, log)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	return srv.Run(ctx)
}
