package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders a list of run results as human-readable text.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	totalFiles := len(results)
	fmt.Fprintf(&b, "Evaluating %d suite", totalFiles)
	if totalFiles != 1 {
		b.WriteString("s")
	}
	b.WriteString("...\n\n")

	totalCases := 0
	totalPassed := 0
	failedSuites := 0

	for _, r := range results {
		totalCases += r.Total
		totalPassed += r.Passed

		if r.Failed == 0 {
			fmt.Fprintf(&b, "  PASS  %s (%d/%d)\n", r.Name, r.Passed, r.Total)
		} else {
			failedSuites++
			fmt.Fprintf(&b, "  FAIL  %s (%d/%d)\n", r.Name, r.Passed, r.Total)
			for _, c := range r.Cases {
				if !c.Passed {
					name := c.Name
					if name == "" {
						name = fmt.Sprintf("case %d", c.Index)
					}
					if len(name) > 40 {
						name = name[:37] + "..."
					}
					fmt.Fprintf(&b, "    FAIL  %-40s expected %s, got %s (risk %.2f, %s)\n",
						name, c.Expected, c.Actual, c.Risk, c.Threat)
				}
			}
		}

		det := r.Detection
		fmt.Fprintf(&b, "        accuracy %.1f%%  precision %.2f  recall %.2f  fpr %.2f\n",
			r.Accuracy*100, det.Precision, det.Recall, det.FalsePositiveRate)
	}

	fmt.Fprintf(&b, "\n%d of %d cases passed.", totalPassed, totalCases)
	if failedSuites > 0 {
		fmt.Fprintf(&b, " %d of %d suites failed.", failedSuites, totalFiles)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders run results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
