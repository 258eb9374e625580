package domain

// Action is a strategy decision for one evaluation tick.
type Action string

const (
	ActionHold          Action = "HOLD"
	ActionOpenLong      Action = "OPEN_LONG"
	ActionOpenShort     Action = "OPEN_SHORT"
	ActionOpenPosition  Action = "OPEN_POSITION"
	ActionClosePosition Action = "CLOSE_POSITION"
	ActionFlipToLong    Action = "FLIP_TO_LONG"
	ActionFlipToShort   Action = "FLIP_TO_SHORT"
	ActionRebalance     Action = "REBALANCE"
	ActionHarvest       Action = "HARVEST"
	ActionEmergencyExit Action = "EMERGENCY_EXIT"
)

// ExecutionResult is a strategy's decision output for one evaluation
// tick. Executed is true only when a side-effecting executor call
// completed; skipped or blocked actions carry the reason instead.
// FundingRate and NetAPY are diagnostic context for the journal, set
// when the strategy computed them this tick.
type ExecutionResult struct {
	Executed        bool
	Action          Action
	Reason          string
	Trades          []*Trade
	Positions       []*Position
	ShouldRebalance bool
	FundingRate     *float64
	NetAPY          *float64
}

// DecisionRecord is the journaled form of one evaluation tick.
type DecisionRecord struct {
	ID              string
	StrategyID      string
	Asset           string
	TimestampMs     int64
	Action          Action
	Executed        bool
	Reason          string
	ShouldRebalance bool
	BreakerState    string
	FundingRate     *float64
	NetAPY          *float64
	TxID            string
	DurationMs      int64
}
