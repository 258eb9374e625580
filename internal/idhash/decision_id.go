package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeDecisionID computes a deterministic decision_id using SHA256.
// Formula: SHA256(strategy_id|asset|action|timestamp_ms)
// Returns base58-encoded hash (43-44 characters).
func ComputeDecisionID(
	strategyID string,
	asset string,
	action string,
	timestampMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		strategyID,
		asset,
		action,
		timestampMs,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
