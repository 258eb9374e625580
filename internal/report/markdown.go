package report

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders the report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Simulation Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))

	sb.WriteString("## Run Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Start | %s |\n", r.Start.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("| End | %s |\n", r.End.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("| Steps | %d |\n", r.Steps))
	sb.WriteString(fmt.Sprintf("| Strategies | %d |\n", len(r.Strategies)))
	sb.WriteString(fmt.Sprintf("| Breaker | %s |\n", r.BreakerState))
	sb.WriteString("\n")

	sb.WriteString("## Strategy Results\n\n")
	if len(r.Strategies) > 0 {
		sb.WriteString("| Strategy | Asset | Holds | Opens | Flips | Closes | Rebalances | Harvests | Executed | Errors | Start Equity | Final Equity | Return% |\n")
		sb.WriteString("|----------|-------|-------|-------|-------|--------|------------|----------|----------|--------|--------------|--------------|--------|\n")
		for _, s := range r.Strategies {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %d | %d | %d | %d | %d | %.2f | %.2f | %.4f |\n",
				s.StrategyID, s.Asset,
				s.HoldCount, s.OpenCount, s.FlipCount, s.CloseCount,
				s.RebalanceCount, s.HarvestCount,
				s.Executed, s.Errors,
				s.StartEquity, s.FinalEquity, s.ReturnPct))
		}
	} else {
		sb.WriteString("No strategy results available.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Final Positions\n\n")
	sb.WriteString("| Strategy | Side | Funding Rate | Est. APY% | Range Width% |\n")
	sb.WriteString("|----------|------|--------------|-----------|-------------|\n")
	for _, s := range r.Strategies {
		side := s.FinalSide
		if side == "" || side == "NONE" {
			side = "flat"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %.6f | %.2f | %.2f |\n",
			s.StrategyID, side, s.FundingRate, s.EstimatedAPY, s.RangeWidthPct))
	}
	sb.WriteString("\n")

	if emergencies(r) > 0 {
		sb.WriteString(fmt.Sprintf("**%d emergency exit(s) occurred during this run.**\n\n", emergencies(r)))
	}

	return sb.String()
}

func emergencies(r *Report) int {
	var n int
	for _, s := range r.Strategies {
		n += s.EmergencyCount
	}
	return n
}
