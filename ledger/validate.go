package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Payload field names accepted by Validate.
const (
	FieldSymbol           = "symbol"
	FieldAction           = "action"
	FieldQuantity         = "quantity"
	FieldPrice            = "price"
	FieldSource           = "source"
	FieldSignalConfidence = "signalConfidence"
	FieldExperimentTag    = "experimentTag"
)

var requiredFields = []string{FieldSymbol, FieldAction, FieldQuantity, FieldPrice}

// Validate turns a raw request payload into a TradeEvent. Numbers may be
// JSON numbers (float64 or json.Number) or numeric strings. The action is
// case-insensitive. Whether a sell is covered by the held quantity is left
// to the Ledger.
func Validate(raw map[string]any) (TradeEvent, error) {
	for _, f := range requiredFields {
		if isEmpty(raw[f]) {
			return TradeEvent{}, &MissingFieldError{Field: f}
		}
	}

	symbol := fmt.Sprint(raw[FieldSymbol])
	actionStr := fmt.Sprint(raw[FieldAction])
	action := Action(strings.ToUpper(strings.TrimSpace(actionStr)))
	if !action.valid() {
		return TradeEvent{}, &UnknownActionError{Action: actionStr}
	}

	qty, err := parsePositive(FieldQuantity, raw[FieldQuantity])
	if err != nil {
		return TradeEvent{}, err
	}
	price, err := parsePositive(FieldPrice, raw[FieldPrice])
	if err != nil {
		return TradeEvent{}, err
	}

	ev := TradeEvent{
		Symbol:   normalizeSymbol(symbol),
		Action:   action,
		Quantity: qty,
		Price:    price,
	}

	if s, ok := raw[FieldSource].(string); ok {
		ev.Source = strings.TrimSpace(s)
	}
	if s, ok := raw[FieldExperimentTag].(string); ok {
		ev.ExperimentTag = strings.TrimSpace(s)
	}
	if v := raw[FieldSignalConfidence]; !isEmpty(v) {
		d, err := parseNumber(FieldSignalConfidence, v)
		if err != nil {
			return TradeEvent{}, err
		}
		c := d.InexactFloat64()
		ev.SignalConfidence = &c
	}
	return ev, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func parsePositive(field string, v any) (decimal.Decimal, error) {
	d, err := parseNumber(field, v)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, &InvalidNumberError{Field: field, Value: v}
	}
	return d, nil
}

func parseNumber(field string, v any) (decimal.Decimal, error) {
	bad := &InvalidNumberError{Field: field, Value: v}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, bad
		}
		return decimal.NewFromFloat(t), nil
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, bad
		}
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case decimal.Decimal:
		return t, nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, bad
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, bad
		}
		return d, nil
	}
	return decimal.Zero, bad
}
