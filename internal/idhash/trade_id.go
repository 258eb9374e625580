package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(strategy_id|asset|side|timestamp_ms|nonce)
// Returns base58-encoded hash (43-44 characters).
func ComputeTradeID(
	strategyID string,
	asset string,
	side string,
	timestampMs int64,
	nonce uint64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		strategyID,
		asset,
		side,
		timestampMs,
		nonce,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
