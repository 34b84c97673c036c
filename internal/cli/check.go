package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gatewatch/internal/feature"
	"github.com/ppiankov/gatewatch/internal/gateway"
	"github.com/ppiankov/gatewatch/internal/model"
)

var (
	checkConfig   string
	checkPolicy   string
	checkPrompt   string
	checkToolCall string
	checkContext  string
	checkClientID string
	checkTool     string
	checkStdin    bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkConfig, "config", "", "Path to engine config YAML")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML")
	checkCmd.Flags().StringVar(&checkPrompt, "prompt", "", "Prompt text to inspect")
	checkCmd.Flags().StringVar(&checkToolCall, "tool-call", "", "Serialized tool call to inspect")
	checkCmd.Flags().StringVar(&checkContext, "context", "", "Conversation context")
	checkCmd.Flags().StringVar(&checkClientID, "client", "", "Client identity for policy matching")
	checkCmd.Flags().StringVar(&checkTool, "tool", "", "Tool name for policy matching")
	checkCmd.Flags().BoolVar(&checkStdin, "stdin", false, "Read the prompt from stdin")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Inspect one request without recording it",
	Long: "Runs a single request through the full tier pipeline and prints the\n" +
		"decision as JSON. Nothing is written to the audit log or decision store.\n\n" +
		"Exit code 0 for ALLOW, 1 for BLOCK, 2 for CONFIRM.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		checkPrompt = string(data)
	}
	if checkPrompt == "" && checkToolCall == "" {
		return fmt.Errorf("nothing to inspect: pass --prompt, --tool-call, or --stdin")
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	gw, err := gateway.Build(ctx, gateway.Options{
		ConfigPath: checkConfig,
		PolicyPath: checkPolicy,
		DryRun:     true,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	fv := feature.Extract(feature.Request{
		Prompt:   checkPrompt,
		ToolCall: checkToolCall,
		Context:  checkContext,
		ClientID: checkClientID,
		Tool:     checkTool,
	})
	d := gw.Engine.Analyze(ctx, fv, model.RequestMeta{
		ClientID: checkClientID,
		Tool:     checkTool,
	})

	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))

	switch d.Action {
	case model.ActionBlock:
		os.Exit(1)
	case model.ActionConfirm:
		os.Exit(2)
	}
	return nil
}
