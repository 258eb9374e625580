// Package report renders simulation runs for operators: a markdown
// summary and a CSV of the per-strategy aggregates.
package report

import (
	"sort"
	"time"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/simulate"
)

// Report is the rendered view of one simulation run.
type Report struct {
	GeneratedAt time.Time

	RunID string
	Start time.Time
	End   time.Time
	Steps int

	BreakerState string

	// Strategies is sorted by strategy ID.
	Strategies []StrategyRow
}

// StrategyRow is one strategy's aggregate over the run.
type StrategyRow struct {
	StrategyID string
	Name       string
	Asset      string

	HoldCount      int
	OpenCount      int
	FlipCount      int
	CloseCount     int
	RebalanceCount int
	HarvestCount   int
	EmergencyCount int
	Executed       int
	Errors         int

	StartEquity float64
	FinalEquity float64
	ReturnPct   float64

	FinalSide     string
	FundingRate   float64 // per period, last observed
	EstimatedAPY  float64 // percent
	RangeWidthPct float64
}

// FromRun builds the report for a finished run, stamped with now.
func FromRun(res *simulate.Result, now time.Time) *Report {
	r := &Report{
		GeneratedAt:  now,
		RunID:        res.RunID,
		Start:        res.Start,
		End:          res.End,
		Steps:        res.Steps,
		BreakerState: string(res.BreakerState),
	}

	for _, sr := range res.Strategies {
		row := StrategyRow{
			StrategyID:  sr.StrategyID,
			Name:        sr.Name,
			Asset:       sr.Asset,
			Executed:    sr.Executed,
			Errors:      sr.Errors,
			StartEquity: sr.StartEquity,
			FinalEquity: sr.FinalEquity,
			ReturnPct:   sr.ReturnPct,

			FinalSide:     string(sr.FinalMetrics.Side),
			FundingRate:   sr.FinalMetrics.FundingRate,
			EstimatedAPY:  sr.FinalMetrics.EstimatedAPY,
			RangeWidthPct: sr.FinalMetrics.RangeWidth,
		}
		for action, n := range sr.Actions {
			switch action {
			case domain.ActionHold:
				row.HoldCount += n
			case domain.ActionOpenLong, domain.ActionOpenShort, domain.ActionOpenPosition:
				row.OpenCount += n
			case domain.ActionFlipToLong, domain.ActionFlipToShort:
				row.FlipCount += n
			case domain.ActionClosePosition:
				row.CloseCount += n
			case domain.ActionRebalance:
				row.RebalanceCount += n
			case domain.ActionHarvest:
				row.HarvestCount += n
			case domain.ActionEmergencyExit:
				row.EmergencyCount += n
			}
		}
		r.Strategies = append(r.Strategies, row)
	}

	sort.Slice(r.Strategies, func(i, j int) bool {
		return r.Strategies[i].StrategyID < r.Strategies[j].StrategyID
	})
	return r
}
