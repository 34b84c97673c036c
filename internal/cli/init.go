package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gatewatch/internal/config"
	"github.com/ppiankov/gatewatch/internal/policy"
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(initPolicyCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate default engine config with comments",
	Long:  "Creates ~/.gatewatch/config.yaml with the default tier layout, budget,\nand thresholds. Edit this file to tune the engine.",
	RunE:  runInit,
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate default policy.yaml with comments",
	Long:  "Creates ~/.gatewatch/policy.yaml with the default decision rules.\nEdit this file to customize enforcement behavior.",
	RunE:  runInitPolicy,
}

func runInit(cmd *cobra.Command, args []string) error {
	return writeScaffold("config.yaml", config.DefaultYAML())
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	return writeScaffold("policy.yaml", policy.DefaultConfigYAML())
}

func writeScaffold(name, content string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	dir := filepath.Join(home, ".gatewatch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists at %s", name, path)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}
