package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a comparison report as Markdown string.
func RenderMarkdown(r ComparisonReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Backtest %s vs Hold %s\n\n", r.BacktestID, r.Symbol))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	if r.Samples == 0 {
		sb.WriteString("No data.\n")
		return sb.String()
	}

	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Initial Investment | %.2f |\n", r.Initial))
	sb.WriteString(fmt.Sprintf("| Samples | %d |\n", r.Samples))
	sb.WriteString(fmt.Sprintf("| Range Start (ms) | %d |\n", r.StartMs))
	sb.WriteString(fmt.Sprintf("| Range End (ms) | %d |\n", r.EndMs))
	sb.WriteString(fmt.Sprintf("| Zero Crossings | %d |\n", r.Intersections))
	sb.WriteString(fmt.Sprintf("| Final Equity | %.6f |\n", r.FinalEquity))
	sb.WriteString(fmt.Sprintf("| Final Hold | %.6f |\n", r.FinalHold))
	sb.WriteString(fmt.Sprintf("| Max Equity | %.6f |\n", r.MaxEquity))
	sb.WriteString(fmt.Sprintf("| Min Equity | %.6f |\n", r.MinEquity))
	sb.WriteString("\n")

	if r.Outperformed() {
		sb.WriteString("**Strategy outperformed holding.**\n")
	} else {
		sb.WriteString("**Holding outperformed the strategy.**\n")
	}

	return sb.String()
}
