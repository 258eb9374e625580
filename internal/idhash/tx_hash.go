package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ComputeTxHash computes a deterministic transaction hash for simulated
// fills, so paper trades journal and replay exactly like live ones.
// Formula: SHA256(tx|strategy_id|timestamp_ms|nonce)
func ComputeTxHash(strategyID string, timestampMs int64, nonce uint64) common.Hash {
	data := fmt.Sprintf("tx|%s|%d|%d", strategyID, timestampMs, nonce)
	return common.Hash(sha256.Sum256([]byte(data)))
}
