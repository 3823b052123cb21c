package main

import (
	"encoding/json"
	"strings"

	"github.com/linchengweiii/sygnl/ledger"
	"github.com/shopspring/decimal"
)

// ===== DTOs =====

// Signal execution payload. Numbers may arrive as JSON numbers or numeric
// strings; price may be omitted and is then looked up.
type signalExecutionDTO struct {
	SignalID       string      `json:"signalId"`
	Symbol         string      `json:"symbol"`
	Action         string      `json:"action"`
	Confidence     *float64    `json:"confidence"`
	MarketState    string      `json:"marketState"`
	Mode           string      `json:"mode"`
	Quantity       json.Number `json:"quantity"`
	Price          json.Number `json:"price"`
	Auto           bool        `json:"auto"`
	WeakExperiment bool        `json:"isWeakSignalExperiment"`
}

func (d signalExecutionDTO) toDomain() (SignalExecution, error) {
	symbol := strings.ToUpper(strings.TrimSpace(d.Symbol))
	if symbol == "" {
		return SignalExecution{}, &ledger.MissingFieldError{Field: ledger.FieldSymbol}
	}
	if strings.TrimSpace(d.Action) == "" {
		return SignalExecution{}, &ledger.MissingFieldError{Field: ledger.FieldAction}
	}
	action := ledger.Action(strings.ToUpper(strings.TrimSpace(d.Action)))
	if !action.Increases() && !action.Decreases() {
		return SignalExecution{}, &ledger.UnknownActionError{Action: d.Action}
	}
	if d.Quantity == "" {
		return SignalExecution{}, &ledger.MissingFieldError{Field: ledger.FieldQuantity}
	}
	qty, err := decimal.NewFromString(d.Quantity.String())
	if err != nil || !qty.IsPositive() {
		return SignalExecution{}, &ledger.InvalidNumberError{Field: ledger.FieldQuantity, Value: d.Quantity.String()}
	}
	price := decimal.Zero
	if d.Price != "" {
		price, err = decimal.NewFromString(d.Price.String())
		if err != nil || price.IsNegative() {
			return SignalExecution{}, &ledger.InvalidNumberError{Field: ledger.FieldPrice, Value: d.Price.String()}
		}
	}
	mode, err := parseMode(d.Mode)
	if err != nil {
		return SignalExecution{}, err
	}
	return SignalExecution{
		SignalID:       strings.TrimSpace(d.SignalID),
		Symbol:         symbol,
		Action:         action,
		Confidence:     d.Confidence,
		MarketState:    strings.TrimSpace(d.MarketState),
		Mode:           mode,
		Quantity:       qty,
		Price:          price,
		Auto:           d.Auto,
		WeakExperiment: d.WeakExperiment,
	}, nil
}
