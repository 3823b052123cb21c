package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linchengweiii/sygnl/ledger"
	"github.com/shopspring/decimal"
)

// ===== Domain =====

// Mode selects which account a trade is booked against. Each mode has its
// own position set, history and starting balance.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

var modes = []Mode{ModePaper, ModeLive}

var ErrUnknownMode = errors.New("unknown mode")

// parseMode defaults to paper when s is empty.
func parseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	}
	return "", fmt.Errorf("%w: %q (use paper|live)", ErrUnknownMode, s)
}

// Trade sources recorded on positions and history.
const (
	SourceManual       = "manual"
	SourceSignalAuto   = "signal-auto"
	SourceSignalManual = "signal-manual"
)

// ExperimentTagWeakSignal marks executions of low-confidence signals.
const ExperimentTagWeakSignal = "weak-signal"

type SignalStrength string

const (
	StrengthStrong SignalStrength = "STRONG"
	StrengthMedium SignalStrength = "MEDIUM"
	StrengthWeak   SignalStrength = "WEAK"
)

// Signal is one item from the upstream signal service. Action may be empty,
// in which case one is suggested from the current holdings.
type Signal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	Confidence  float64   `json:"confidence"`
	MarketState string    `json:"marketState"`
	Reasoning   string    `json:"reasoning"`
	Timestamp   time.Time `json:"timestamp"`
}

// SignalRecord is stored for every executed signal. Outcome stays "pending";
// nothing in this service resolves it.
type SignalRecord struct {
	ID            string          `json:"id"`
	SignalID      string          `json:"signal_id"`
	TradeID       string          `json:"trade_id"`
	Symbol        string          `json:"symbol"`
	Action        ledger.Action   `json:"action"`
	Confidence    float64         `json:"confidence"`
	Strength      SignalStrength  `json:"strength"`
	MarketState   string          `json:"market_state"`
	Mode          Mode            `json:"mode"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	Experiment    bool            `json:"experiment"`
	Outcome       string          `json:"outcome"`
	Timestamp     time.Time       `json:"timestamp"`
}

const OutcomePending = "pending"

// Snapshot is a point-in-time copy of a mode's portfolio totals.
type Snapshot struct {
	ID            string          `json:"id"`
	Mode          Mode            `json:"mode"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalPL       decimal.Decimal `json:"total_pl"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
	Positions     int             `json:"positions"`
	TakenAt       time.Time       `json:"taken_at"`
}
