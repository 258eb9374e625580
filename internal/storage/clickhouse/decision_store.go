package clickhouse

import (
	"context"
	"fmt"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// DecisionStore implements storage.DecisionStore using ClickHouse.
type DecisionStore struct {
	conn *Conn
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(conn *Conn) *DecisionStore {
	return &DecisionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

const decisionColumns = `
	decision_id, strategy_id, asset, timestamp_ms,
	action, executed, reason, should_rebalance, breaker_state,
	funding_rate, net_apy, tx_id, duration_ms
`

// Insert adds one decision. Returns ErrDuplicateKey if decision_id exists.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.DecisionRecord) error {
	return s.InsertBulk(ctx, []*domain.DecisionRecord{d})
}

// InsertBulk adds multiple decisions. Fails entire batch on any duplicate
// decision_id.
func (s *DecisionStore) InsertBulk(ctx context.Context, decisions []*domain.DecisionRecord) error {
	if len(decisions) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(decisions))
	for _, d := range decisions {
		if _, exists := seen[d.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[d.ID] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, d := range decisions {
		exists, err := s.exists(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO decisions (`+decisionColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, d := range decisions {
		err = batch.Append(
			d.ID, d.StrategyID, d.Asset, uint64(d.TimestampMs),
			string(d.Action), boolToUint8(d.Executed), d.Reason,
			boolToUint8(d.ShouldRebalance), d.BreakerState,
			d.FundingRate, d.NetAPY, d.TxID, uint64(d.DurationMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByStrategy retrieves all decisions for a strategy, oldest first.
func (s *DecisionStore) GetByStrategy(ctx context.Context, strategyID string) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE strategy_id = ?
		ORDER BY timestamp_ms ASC, decision_id ASC
	`

	rows, err := s.conn.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query by strategy: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// GetByTimeRange retrieves decisions for a strategy within [start, end] (inclusive).
func (s *DecisionStore) GetByTimeRange(ctx context.Context, strategyID string, start, end int64) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decisions
		WHERE strategy_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, decision_id ASC
	`

	rows, err := s.conn.Query(ctx, query, strategyID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// exists checks if a decision with the given id exists.
func (s *DecisionStore) exists(ctx context.Context, decisionID string) (bool, error) {
	query := `SELECT count(*) FROM decisions WHERE decision_id = ?`

	var count uint64
	err := s.conn.QueryRow(ctx, query, decisionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanDecisions scans multiple rows.
func scanDecisions(rows chRows) ([]*domain.DecisionRecord, error) {
	var decisions []*domain.DecisionRecord

	for rows.Next() {
		var d domain.DecisionRecord
		var timestampMs, durationMs uint64
		var action string
		var executed, shouldRebalance uint8

		err := rows.Scan(
			&d.ID, &d.StrategyID, &d.Asset, &timestampMs,
			&action, &executed, &d.Reason, &shouldRebalance, &d.BreakerState,
			&d.FundingRate, &d.NetAPY, &d.TxID, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}

		d.TimestampMs = int64(timestampMs)
		d.DurationMs = int64(durationMs)
		d.Action = domain.Action(action)
		d.Executed = executed == 1
		d.ShouldRebalance = shouldRebalance == 1
		decisions = append(decisions, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}

	return decisions, nil
}

// boolToUint8 converts a bool to ClickHouse UInt8.
func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
