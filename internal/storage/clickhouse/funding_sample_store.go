package clickhouse

import (
	"context"
	"fmt"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

// FundingSampleStore implements storage.FundingSampleStore using ClickHouse.
type FundingSampleStore struct {
	conn *Conn
}

// NewFundingSampleStore creates a new FundingSampleStore.
func NewFundingSampleStore(conn *Conn) *FundingSampleStore {
	return &FundingSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FundingSampleStore = (*FundingSampleStore)(nil)

// InsertBulk adds multiple samples. Fails entire batch on duplicate
// (asset, timestamp_ms).
func (s *FundingSampleStore) InsertBulk(ctx context.Context, samples []*domain.FundingSample) error {
	if len(samples) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		asset       string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(samples))
	for _, f := range samples {
		k := key{f.Asset, f.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, f := range samples {
		exists, err := s.exists(ctx, f.Asset, f.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO funding_samples (
			asset, timestamp_ms, rate, predicted_rate, open_interest, mark_price
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, f := range samples {
		err = batch.Append(
			f.Asset, uint64(f.TimestampMs),
			f.Rate, f.PredictedRate, f.OpenInterest, f.MarkPrice,
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

// GetByTimeRange retrieves samples for an asset within [start, end] (inclusive).
func (s *FundingSampleStore) GetByTimeRange(ctx context.Context, asset string, start, end int64) ([]*domain.FundingSample, error) {
	query := `
		SELECT asset, timestamp_ms, rate, predicted_rate, open_interest, mark_price
		FROM funding_samples
		WHERE asset = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFundingSamples(rows)
}

// Latest retrieves the most recent sample for an asset. Returns
// ErrNotFound if the asset has no samples.
func (s *FundingSampleStore) Latest(ctx context.Context, asset string) (*domain.FundingSample, error) {
	query := `
		SELECT asset, timestamp_ms, rate, predicted_rate, open_interest, mark_price
		FROM funding_samples
		WHERE asset = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	samples, err := scanFundingSamples(rows)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, storage.ErrNotFound
	}
	return samples[0], nil
}

// exists checks if a sample with the given key exists.
func (s *FundingSampleStore) exists(ctx context.Context, asset string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM funding_samples
		WHERE asset = ? AND timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, asset, uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanFundingSamples scans multiple rows.
func scanFundingSamples(rows chRows) ([]*domain.FundingSample, error) {
	var samples []*domain.FundingSample

	for rows.Next() {
		var f domain.FundingSample
		var timestampMs uint64

		err := rows.Scan(
			&f.Asset, &timestampMs,
			&f.Rate, &f.PredictedRate, &f.OpenInterest, &f.MarkPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan funding sample row: %w", err)
		}

		f.TimestampMs = int64(timestampMs)
		samples = append(samples, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate funding sample rows: %w", err)
	}

	return samples, nil
}
