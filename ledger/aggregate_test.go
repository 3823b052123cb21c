package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func position(symbol, qty, cost, price string) Position {
	p := Position{Symbol: symbol, Quantity: d(qty), CostBasis: d(cost)}
	p.EntryPrice = p.CostBasis.Div(p.Quantity)
	p.Mark(d(price))
	return p
}

func TestAggregate_Empty(t *testing.T) {
	pf := Aggregate(nil, d("6000"))

	assertDec(t, "0", pf.TotalValue)
	assertDec(t, "0", pf.TotalInvested)
	assertDec(t, "0", pf.TotalPL)
	assertDec(t, "0", pf.TotalPLPercent)
	assertDec(t, "6000", pf.BuyingPower)
	assert.NotNil(t, pf.Positions)
	assert.Empty(t, pf.Positions)
}

func TestAggregate_TotalsAndAllocation(t *testing.T) {
	pf := Aggregate([]Position{
		position("NVDA", "10", "1000", "150"),
		position("AAPL", "5", "1000", "100"),
	}, d("6000"))

	assertDec(t, "2000", pf.TotalValue)
	assertDec(t, "2000", pf.TotalInvested)
	assertDec(t, "0", pf.TotalPL)
	assertDec(t, "0", pf.TotalPLPercent)
	assertDec(t, "4000", pf.BuyingPower)

	require.Len(t, pf.Positions, 2)
	assert.Equal(t, "AAPL", pf.Positions[0].Symbol)
	assertDec(t, "25", pf.Positions[0].AllocationPercent)
	assertDec(t, "75", pf.Positions[1].AllocationPercent)
}

func TestAggregate_PLPercent(t *testing.T) {
	pf := Aggregate([]Position{position("ETH", "2", "1000", "600")}, d("1000"))

	assertDec(t, "200", pf.TotalPL)
	assertDec(t, "20", pf.TotalPLPercent)
	assertDec(t, "0", pf.BuyingPower)
}

func TestAggregate_BuyingPowerNeverNegative(t *testing.T) {
	pf := Aggregate([]Position{position("BTC", "1", "9000", "9000")}, d("6000"))
	assertDec(t, "0", pf.BuyingPower)
}

func TestAggregate_ZeroValuePositions(t *testing.T) {
	p := position("DUST", "1", "0", "0")
	pf := Aggregate([]Position{p}, d("10"))

	assertDec(t, "0", pf.TotalPLPercent)
	assertDec(t, "0", pf.Positions[0].AllocationPercent)
	assertDec(t, "0", pf.Positions[0].UnrealizedPLPercent)
}

func TestAggregate_LastUpdated(t *testing.T) {
	older := position("A", "1", "1", "1")
	older.LastUpdated = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := position("B", "1", "1", "1")
	newer.LastUpdated = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	pf := Aggregate([]Position{newer, older}, d("10"))
	assert.Equal(t, newer.LastUpdated, pf.LastUpdated)
}
