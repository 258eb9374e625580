package memory

import (
	"testing"

	"github.com/shopspring/decimal"

	"delta-keeper/internal/domain"
)

func testPrice(t *testing.T, s string) domain.Price {
	t.Helper()
	p, err := domain.NewPrice(decimal.RequireFromString(s))
	if err != nil {
		t.Fatalf("invalid price %s: %v", s, err)
	}
	return p
}

func testAmount(t *testing.T, s string) domain.Amount {
	t.Helper()
	a, err := domain.NewAmount(decimal.RequireFromString(s))
	if err != nil {
		t.Fatalf("invalid amount %s: %v", s, err)
	}
	return a
}
