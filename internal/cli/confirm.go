package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gatewatch/internal/confirm"
)

var (
	confirmDuration time.Duration
	confirmDir      string
)

func init() {
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(pendingCmd)
	confirmCmd.Flags().DurationVar(&confirmDuration, "duration", 0, "Validity period (e.g., 5m, 1h). Default: one-time use")
	for _, c := range []*cobra.Command{confirmCmd, denyCmd, pendingCmd} {
		c.Flags().StringVar(&confirmDir, "dir", "", "Confirmation store directory")
	}
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <request-id>",
	Short: "Approve a pending CONFIRM decision",
	Long:  "Approves a parked request. Without --duration, approval is one-time\n(consumed on first use). With --duration, approval is valid for the\nspecified period and can be reused.",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfirm,
}

var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending CONFIRM decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending CONFIRM decisions",
	Long:  "Shows all parked requests with their status, matched rule, and timestamps.",
	RunE:  runPending,
}

func openConfirmStore() (*confirm.Store, error) {
	dir := confirmDir
	if dir == "" {
		dir = confirm.DefaultDir()
	}
	return confirm.NewStore(dir)
}

func runConfirm(cmd *cobra.Command, args []string) error {
	store, err := openConfirmStore()
	if err != nil {
		return fmt.Errorf("open confirmation store: %w", err)
	}
	if err := store.Confirm(args[0], confirmDuration); err != nil {
		return err
	}
	if confirmDuration > 0 {
		fmt.Printf("Confirmed %q for %s\n", args[0], confirmDuration)
	} else {
		fmt.Printf("Confirmed %q (one-time use)\n", args[0])
	}
	return nil
}

func runDeny(cmd *cobra.Command, args []string) error {
	store, err := openConfirmStore()
	if err != nil {
		return fmt.Errorf("open confirmation store: %w", err)
	}
	if err := store.Deny(args[0]); err != nil {
		return err
	}
	fmt.Printf("Denied %q\n", args[0])
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := openConfirmStore()
	if err != nil {
		return fmt.Errorf("open confirmation store: %w", err)
	}

	store.Cleanup()
	list, err := store.List()
	if err != nil {
		return fmt.Errorf("list confirmations: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No pending confirmations.")
		return nil
	}

	fmt.Printf("%-38s %-10s %-24s %-5s %s\n", "REQUEST", "STATUS", "RULE", "RISK", "CREATED")
	for _, c := range list {
		fmt.Printf("%-38s %-10s %-24s %.2f  %s\n",
			c.Key,
			c.Status,
			truncate(c.RuleID, 24),
			c.Risk,
			c.CreatedAt.Format("15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
