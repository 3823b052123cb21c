package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/linchengweiii/sygnl/ledger"
	"github.com/shopspring/decimal"
)

// Ledger amounts are in the quote currency of the traded symbols.
const baseCurrency = money.USD

var ErrUnknownCurrency = errors.New("unknown currency")

// formatMoney renders amount in the given ISO currency, e.g. "$1,400.00".
// Unknown currencies fall back to "<amount> <code>".
func formatMoney(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	factor := decimal.New(1, int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), cur.Code).Display()
}

func formatUSD(amount decimal.Decimal) string { return formatMoney(amount, baseCurrency) }

// ConvertedTotals restates the portfolio totals in a display currency.
type ConvertedTotals struct {
	Currency      string          `json:"currency"`
	Rate          decimal.Decimal `json:"rate"`
	AsOf          time.Time       `json:"as_of"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalPL       decimal.Decimal `json:"total_pl"`
	BuyingPower   decimal.Decimal `json:"buying_power"`

	Display map[string]string `json:"display"`
}

func convertTotals(ctx context.Context, ex CurrencyExchanger, pf ledger.Portfolio, to string) (*ConvertedTotals, error) {
	to = strings.ToUpper(strings.TrimSpace(to))
	if money.GetCurrency(to) == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownCurrency, to)
	}
	if ex == nil {
		return nil, ErrNoExchanger
	}
	rate, asOf, err := ex.Rate(ctx, baseCurrency, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceLookup, err)
	}
	ct := &ConvertedTotals{
		Currency:      to,
		Rate:          rate,
		AsOf:          asOf,
		TotalValue:    pf.TotalValue.Mul(rate),
		TotalInvested: pf.TotalInvested.Mul(rate),
		TotalPL:       pf.TotalPL.Mul(rate),
		BuyingPower:   pf.BuyingPower.Mul(rate),
	}
	ct.Display = map[string]string{
		"total_value":    formatMoney(ct.TotalValue, to),
		"total_invested": formatMoney(ct.TotalInvested, to),
		"total_pl":       formatMoney(ct.TotalPL, to),
		"buying_power":   formatMoney(ct.BuyingPower, to),
	}
	return ct, nil
}
