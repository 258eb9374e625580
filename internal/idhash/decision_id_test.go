package idhash

import (
	"testing"
)

func TestComputeDecisionID_Determinism(t *testing.T) {
	strategyID := "FUNDING_RATE_ETH"
	asset := "ETH-USD"
	action := "FLIP_TO_SHORT"
	timestampMs := int64(1704067234567)

	// Compute multiple times
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		results[i] = ComputeDecisionID(strategyID, asset, action, timestampMs)
	}

	// All should be identical
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Errorf("Determinism failed: results[%d]=%s != results[0]=%s", i, results[i], results[0])
		}
	}

	if len(results[0]) < 43 || len(results[0]) > 44 {
		t.Errorf("ComputeDecisionID() length = %d, want 43-44", len(results[0]))
	}
}

func TestComputeDecisionID_DifferentInputs(t *testing.T) {
	base := ComputeDecisionID("strategy", "asset", "HOLD", 1000)

	diffAction := ComputeDecisionID("strategy", "asset", "OPEN_LONG", 1000)
	if base == diffAction {
		t.Error("Different action should produce different hash")
	}

	diffTime := ComputeDecisionID("strategy", "asset", "HOLD", 1001)
	if base == diffTime {
		t.Error("Different timestamp should produce different hash")
	}
}
