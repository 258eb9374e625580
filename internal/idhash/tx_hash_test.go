package idhash

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputeTxHash(t *testing.T) {
	first := ComputeTxHash("FUNDING_RATE_ETH", 1704067234567, 7)
	second := ComputeTxHash("FUNDING_RATE_ETH", 1704067234567, 7)

	if first != second {
		t.Errorf("ComputeTxHash() not deterministic: %s != %s", first.Hex(), second.Hex())
	}
	if first == (common.Hash{}) {
		t.Error("ComputeTxHash() returned the zero hash")
	}

	// Advancing the nonce must change the hash even at the same instant.
	bumped := ComputeTxHash("FUNDING_RATE_ETH", 1704067234567, 8)
	if first == bumped {
		t.Error("Different nonce should produce different hash")
	}
}
