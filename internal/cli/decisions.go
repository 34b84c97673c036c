package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gatewatch/internal/config"
	"github.com/ppiankov/gatewatch/internal/store"
)

var (
	decisionsDB     string
	decisionsConfig string
	decisionsAction string
	decisionsThreat string
	decisionsLimit  int
	labeledOnly     bool
)

func init() {
	rootCmd.AddCommand(decisionsCmd)
	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsLabelCmd)
	decisionsCmd.PersistentFlags().StringVar(&decisionsDB, "db", "", "Path to decision database (default: decision_db from engine config)")
	decisionsCmd.PersistentFlags().StringVar(&decisionsConfig, "config", "", "Path to engine config YAML")
	decisionsListCmd.Flags().StringVar(&decisionsAction, "action", "", "Filter by action (ALLOW/BLOCK/CONFIRM)")
	decisionsListCmd.Flags().StringVar(&decisionsThreat, "threat", "", "Filter by threat type")
	decisionsListCmd.Flags().IntVar(&decisionsLimit, "limit", 50, "Maximum rows to show")
	decisionsListCmd.Flags().BoolVar(&labeledOnly, "labeled", false, "Show only labeled decisions")
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Query and label archived decisions",
	Long:  "Commands for the decision archive. Labeling records ground truth for\noffline threshold tuning and model evaluation.",
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived decisions, newest first",
	RunE:  runDecisionsList,
}

var decisionsLabelCmd = &cobra.Command{
	Use:   "label <request-id> <verdict>",
	Short: "Attach a ground-truth verdict to a decision",
	Long:  "Records what the request actually was: benign or a threat type\n(prompt_injection, data_exfiltration, agent_hijacking, resource_dos,\ntool_abuse, context_poisoning).",
	Args:  cobra.ExactArgs(2),
	RunE:  runDecisionsLabel,
}

func openDecisionStore() (*store.Store, error) {
	path := decisionsDB
	if path == "" {
		cfg, err := config.Load(decisionsConfig)
		if err != nil {
			return nil, err
		}
		path = cfg.DecisionDB
	}
	if path == "" {
		return nil, fmt.Errorf("no decision database configured: pass --db or set decision_db in the engine config")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("decision database not found at %s", path)
	}
	return store.Open(path)
}

func runDecisionsList(cmd *cobra.Command, args []string) error {
	st, err := openDecisionStore()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(context.Background(), store.Query{
		Action:      decisionsAction,
		Threat:      decisionsThreat,
		LabeledOnly: labeledOnly,
		Limit:       decisionsLimit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No decisions match.")
		return nil
	}

	fmt.Printf("%-38s %-8s %-20s %-5s %-20s %s\n", "REQUEST", "ACTION", "THREAT", "RISK", "LABEL", "DECIDED")
	for _, r := range records {
		label := r.Label
		if label == "" {
			label = "-"
		}
		fmt.Printf("%-38s %-8s %-20s %.2f  %-20s %s\n",
			r.RequestID,
			r.Action,
			truncate(r.Threat, 20),
			r.Risk,
			truncate(label, 20),
			r.DecidedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func runDecisionsLabel(cmd *cobra.Command, args []string) error {
	st, err := openDecisionStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Label(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Labeled %s as %q\n", args[0], args[1])
	return nil
}
