// Package ledger applies BUY/ADD/SELL/REDUCE trade events to symbol-keyed
// positions using weighted-average cost basis, and derives portfolio
// aggregates from the resulting position set.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the kind of trade applied to a position.
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionAdd    Action = "ADD"
	ActionSell   Action = "SELL"
	ActionReduce Action = "REDUCE"
)

// Increases reports whether the action adds units to a position.
func (a Action) Increases() bool { return a == ActionBuy || a == ActionAdd }

// Decreases reports whether the action removes units from a position.
func (a Action) Decreases() bool { return a == ActionSell || a == ActionReduce }

func (a Action) valid() bool { return a.Increases() || a.Decreases() }

var hundred = decimal.NewFromInt(100)

// Position is the holding record for one symbol. It only exists while
// Quantity > 0.
type Position struct {
	Symbol              string          `json:"symbol"`
	Quantity            decimal.Decimal `json:"quantity"`
	EntryPrice          decimal.Decimal `json:"entry_price"`
	CostBasis           decimal.Decimal `json:"cost_basis"`
	CurrentPrice        decimal.Decimal `json:"current_price"`
	CurrentValue        decimal.Decimal `json:"current_value"`
	UnrealizedPL        decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealized_pl_pct"`
	SignalConfidence    *float64        `json:"signal_confidence,omitempty"`
	Source              string          `json:"source,omitempty"`
	LastUpdated         time.Time       `json:"last_updated"`
}

// Mark sets the current price and recomputes the derived value and P&L
// fields. A zero (or negative) cost basis is clamped to zero and yields a
// zero percentage.
func (p *Position) Mark(price decimal.Decimal) {
	if p.CostBasis.IsNegative() {
		p.CostBasis = decimal.Zero
	}
	p.CurrentPrice = price
	p.CurrentValue = p.Quantity.Mul(price)
	p.UnrealizedPL = p.CurrentValue.Sub(p.CostBasis)
	if p.CostBasis.IsZero() {
		p.UnrealizedPLPercent = decimal.Zero
		return
	}
	p.UnrealizedPLPercent = p.UnrealizedPL.Div(p.CostBasis).Mul(hundred)
}

// TradeEvent is a validated request to change a position.
type TradeEvent struct {
	Symbol           string          `json:"symbol"`
	Action           Action          `json:"action"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	Source           string          `json:"source,omitempty"`
	SignalConfidence *float64        `json:"signal_confidence,omitempty"`
	// ExperimentTag marks executions tracked outside the ledger (weak
	// signal experiments). The ledger carries it but never interprets it.
	ExperimentTag string `json:"experiment_tag,omitempty"`
}

// Value is quantity × price.
func (e TradeEvent) Value() decimal.Decimal { return e.Quantity.Mul(e.Price) }

// TradeResult is what ApplyTrade returns. Position is nil when the trade
// closed the position.
type TradeResult struct {
	Position         *Position       `json:"position"`
	Closed           bool            `json:"closed"`
	RealizedPL       decimal.Decimal `json:"realized_pl"`
	CostBasisRemoved decimal.Decimal `json:"cost_basis_removed"`
}

// TradeRecord is the audit entry for an applied trade.
type TradeRecord struct {
	ID string `json:"id"`
	TradeEvent
	Value        decimal.Decimal `json:"value"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
	AutoExecuted bool            `json:"auto_executed"`
	Timestamp    time.Time       `json:"timestamp"`
}
