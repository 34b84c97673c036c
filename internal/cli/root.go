// Package cli implements the gatewatch command-line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatewatch",
	Short: "Real-time threat inspection for MCP requests",
	Long:  "Multi-tier inference engine that classifies MCP requests as ALLOW, BLOCK,\nor CONFIRM inside a strict latency budget, with a full causal trace per decision.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
