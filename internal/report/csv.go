package report

import (
	"fmt"
	"strings"
)

// RenderCSV renders the per-strategy aggregates as a CSV string.
func RenderCSV(rows []StrategyRow) string {
	var sb strings.Builder

	sb.WriteString("strategy_id,asset,holds,opens,flips,closes,rebalances,harvests,emergency_exits,")
	sb.WriteString("executed,errors,start_equity,final_equity,return_pct\n")

	for _, s := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%d,%d,%d,%d,%d,%d,%d,%.6f,%.6f,%.6f\n",
			s.StrategyID,
			s.Asset,
			s.HoldCount,
			s.OpenCount,
			s.FlipCount,
			s.CloseCount,
			s.RebalanceCount,
			s.HarvestCount,
			s.EmergencyCount,
			s.Executed,
			s.Errors,
			s.StartEquity,
			s.FinalEquity,
			s.ReturnPct,
		))
	}

	return sb.String()
}
