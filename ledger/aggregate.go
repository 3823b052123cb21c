package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a position plus its share of the portfolio's current value.
type Holding struct {
	Position
	AllocationPercent decimal.Decimal `json:"allocation_pct"`
}

// Portfolio is derived from the position set on every read; it is never
// stored.
type Portfolio struct {
	Positions       []Holding       `json:"positions"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	TotalPL         decimal.Decimal `json:"total_pl"`
	TotalPLPercent  decimal.Decimal `json:"total_pl_pct"`
	BuyingPower     decimal.Decimal `json:"buying_power"`
	LastUpdated     time.Time       `json:"last_updated,omitempty"`
}

// Aggregate rolls positions up into portfolio totals. Positions are ordered
// by symbol. No division by zero: empty or zero-cost portfolios report 0%.
func Aggregate(positions []Position, startingBalance decimal.Decimal) Portfolio {
	out := Portfolio{
		Positions:       make([]Holding, 0, len(positions)),
		StartingBalance: startingBalance,
		TotalValue:      decimal.Zero,
		TotalInvested:   decimal.Zero,
		TotalPL:         decimal.Zero,
		TotalPLPercent:  decimal.Zero,
	}

	for _, p := range positions {
		out.TotalValue = out.TotalValue.Add(p.CurrentValue)
		out.TotalInvested = out.TotalInvested.Add(p.CostBasis)
		if p.LastUpdated.After(out.LastUpdated) {
			out.LastUpdated = p.LastUpdated
		}
		out.Positions = append(out.Positions, Holding{Position: p, AllocationPercent: decimal.Zero})
	}

	out.TotalPL = out.TotalValue.Sub(out.TotalInvested)
	if !out.TotalInvested.IsZero() {
		out.TotalPLPercent = out.TotalPL.Div(out.TotalInvested).Mul(hundred)
	}
	out.BuyingPower = decimal.Max(decimal.Zero, startingBalance.Sub(out.TotalInvested))

	if !out.TotalValue.IsZero() {
		for i := range out.Positions {
			out.Positions[i].AllocationPercent = out.Positions[i].CurrentValue.Div(out.TotalValue).Mul(hundred)
		}
	}

	sort.Slice(out.Positions, func(i, j int) bool {
		return out.Positions[i].Symbol < out.Positions[j].Symbol
	})
	return out
}
