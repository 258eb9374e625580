package memory

import (
	"context"
	"errors"
	"testing"

	"delta-keeper/internal/domain"
	"delta-keeper/internal/storage"
)

func TestFundingSampleStore_InsertBulkAndRange(t *testing.T) {
	store := NewFundingSampleStore()
	ctx := context.Background()

	samples := []*domain.FundingSample{
		{Asset: "ETH-USD", TimestampMs: 3000, Rate: 0.0003},
		{Asset: "ETH-USD", TimestampMs: 1000, Rate: 0.0001},
		{Asset: "ETH-USD", TimestampMs: 2000, Rate: 0.0002},
		{Asset: "BTC-USD", TimestampMs: 2000, Rate: 0.0005},
	}

	if err := store.InsertBulk(ctx, samples); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, "ETH-USD", 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(result))
	}
	if result[0].Rate != 0.0001 || result[1].Rate != 0.0002 {
		t.Errorf("Results not ordered by timestamp: %f, %f", result[0].Rate, result[1].Rate)
	}
}

func TestFundingSampleStore_Latest(t *testing.T) {
	store := NewFundingSampleStore()
	ctx := context.Background()

	samples := []*domain.FundingSample{
		{Asset: "ETH-USD", TimestampMs: 1000, Rate: 0.0001},
		{Asset: "ETH-USD", TimestampMs: 3000, Rate: 0.0003},
		{Asset: "ETH-USD", TimestampMs: 2000, Rate: 0.0002},
	}
	if err := store.InsertBulk(ctx, samples); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	latest, err := store.Latest(ctx, "ETH-USD")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.TimestampMs != 3000 || latest.Rate != 0.0003 {
		t.Errorf("Expected latest sample at 3000, got %d", latest.TimestampMs)
	}
}

func TestFundingSampleStore_LatestNotFound(t *testing.T) {
	store := NewFundingSampleStore()
	ctx := context.Background()

	_, err := store.Latest(ctx, "ETH-USD")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFundingSampleStore_DuplicateKey(t *testing.T) {
	store := NewFundingSampleStore()
	ctx := context.Background()

	first := []*domain.FundingSample{{Asset: "ETH-USD", TimestampMs: 1000, Rate: 0.0001}}
	if err := store.InsertBulk(ctx, first); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	// Same (asset, timestamp) again, plus intra-batch duplicate
	err := store.InsertBulk(ctx, []*domain.FundingSample{
		{Asset: "ETH-USD", TimestampMs: 1000, Rate: 0.0002},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for existing key, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.FundingSample{
		{Asset: "ETH-USD", TimestampMs: 2000, Rate: 0.0002},
		{Asset: "ETH-USD", TimestampMs: 2000, Rate: 0.0003},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	// All-or-nothing: only the first sample landed
	all, _ := store.GetByTimeRange(ctx, "ETH-USD", 0, 10000)
	if len(all) != 1 {
		t.Errorf("Expected 1 sample (no partial insert), got %d", len(all))
	}
}

func TestFundingSampleStore_InvalidInput(t *testing.T) {
	store := NewFundingSampleStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.FundingSample{nil})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.FundingSample{{Asset: ""}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty asset, got %v", err)
	}
}
