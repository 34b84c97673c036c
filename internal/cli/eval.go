package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gatewatch/internal/gateway"
	"github.com/ppiankov/gatewatch/internal/scenario"
)

var (
	evalConfig string
	evalPolicy string
	evalSuite  string
	evalFormat string
)

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalConfig, "config", "", "Path to engine config YAML")
	evalCmd.Flags().StringVar(&evalPolicy, "policy", "", "Path to policy YAML")
	evalCmd.Flags().StringVar(&evalSuite, "suite", "", "Glob pattern for suite YAML files (default: built-in smoke suite)")
	evalCmd.Flags().StringVarP(&evalFormat, "format", "f", "text", "Output format (text|json)")
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run labeled suites and report detection quality",
	Long: "Loads suite YAML files matching a glob pattern, runs every case through\n" +
		"the live tier pipeline without recording anything, and reports per-suite\n" +
		"accuracy, precision, recall, and false positive rate.\n\n" +
		"Exit code 0 if all cases pass, 1 if any fail.\n" +
		"Use in CI to gate policy or model changes on detection quality.",
	RunE: runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	gw, err := gateway.Build(ctx, gateway.Options{
		ConfigPath: evalConfig,
		PolicyPath: evalPolicy,
		DryRun:     true,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	var results []*scenario.RunResult
	if evalSuite == "" {
		results = append(results, scenario.Run(ctx, scenario.DefaultSuite(), gw.Engine))
	} else {
		matches, err := filepath.Glob(evalSuite)
		if err != nil {
			return fmt.Errorf("invalid glob pattern: %w", err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no suite files match pattern: %s", evalSuite)
		}
		for _, path := range matches {
			r, err := scenario.LoadAndRun(ctx, path, gw.Engine)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results = append(results, r)
		}
	}

	switch evalFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			os.Exit(1)
		}
	}
	return nil
}
