package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/linchengweiii/sygnl/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

/* ===================== Signal service ===================== */

const (
	strongThreshold   = 75
	mediumThreshold   = 60
	boardMinimum      = 40
	defaultConfidence = 70
)

// ClassifyStrength buckets a 0..100 confidence.
func ClassifyStrength(confidence float64) SignalStrength {
	switch {
	case confidence >= strongThreshold:
		return StrengthStrong
	case confidence >= mediumThreshold:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

func suggestedSize(s SignalStrength) decimal.Decimal {
	switch s {
	case StrengthStrong:
		return decimal.NewFromInt(8500)
	case StrengthMedium:
		return decimal.NewFromInt(5000)
	default:
		return decimal.NewFromInt(2500)
	}
}

// suggestAction picks an action for a signal that arrived without one.
func suggestAction(held bool, confidence float64) string {
	switch {
	case held && confidence < 50:
		return string(ledger.ActionSell)
	case held && confidence < 65:
		return "HOLD"
	case held && confidence >= strongThreshold:
		return string(ledger.ActionAdd)
	}
	return string(ledger.ActionBuy)
}

var (
	// ErrPriceLookup wraps oracle and FX failures.
	ErrPriceLookup = errors.New("price lookup failed")
	ErrSignalFetch = errors.New("signal source unavailable")
)

type BoardSignal struct {
	Signal
	Strength          SignalStrength  `json:"strength"`
	AutoExecute       bool            `json:"autoExecute"`
	Experimental      bool            `json:"experimental"`
	CurrentAllocation decimal.Decimal `json:"currentAllocation"`
	SuggestedSize     decimal.Decimal `json:"suggestedSize"`
}

type Recommendation struct {
	BoardSignal
	Recommendation string `json:"recommendation"`
	Message        string `json:"message"`
}

type BoardStats struct {
	Total                int `json:"total"`
	Strong               int `json:"strong"`
	Medium               int `json:"medium"`
	Weak                 int `json:"weak"`
	WeakExperimentsCount int `json:"weakExperimentsCount"`
	WeakSuccessRate      int `json:"weakSuccessRate"`
}

// SignalBoard is the grouped, ranked view of the upstream signals.
type SignalBoard struct {
	Signals            []BoardSignal    `json:"signals"`
	StrongSignals      []BoardSignal    `json:"strongSignals"`
	MediumSignals      []BoardSignal    `json:"mediumSignals"`
	WeakSignals        []BoardSignal    `json:"weakSignals"`
	Stats              BoardStats       `json:"stats"`
	Recommendations    []Recommendation `json:"recommendations"`
	AutoExecuteEnabled bool             `json:"autoExecuteEnabled"`
}

// SignalExecution asks for one signal to be booked as a trade. Price may
// be zero, in which case the oracle is asked.
type SignalExecution struct {
	SignalID       string
	Symbol         string
	Action         ledger.Action
	Confidence     *float64
	MarketState    string
	Mode           Mode
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Auto           bool
	WeakExperiment bool
}

type SignalReceipt struct {
	TradeReceipt
	Signal SignalRecord `json:"signal"`
}

// ExperimentStats summarises executions tagged as weak-signal experiments.
// Outcomes are never resolved here, so SuccessRate only moves if something
// outside this service rewrites them.
type ExperimentStats struct {
	Count       int            `json:"count"`
	Pending     int            `json:"pending"`
	SuccessRate int            `json:"success_rate"`
	Records     []SignalRecord `json:"records"`
}

type SignalService struct {
	source            SignalSource
	prices            PriceOracle
	trading           *TradingService
	records           SignalRepository
	autoExecuteStrong bool
	log               zerolog.Logger
	now               func() time.Time
}

func NewSignalService(source SignalSource, prices PriceOracle, trading *TradingService, records SignalRepository, autoExecuteStrong bool, log zerolog.Logger) *SignalService {
	return &SignalService{
		source:            source,
		prices:            prices,
		trading:           trading,
		records:           records,
		autoExecuteStrong: autoExecuteStrong,
		log:               log.With().Str("component", "signals").Logger(),
		now:               time.Now,
	}
}

// Board ranks the upstream signals against the paper portfolio.
func (s *SignalService) Board(ctx context.Context) (SignalBoard, error) {
	if s.source == nil {
		return SignalBoard{}, ErrNoSignalSource
	}
	raw, err := s.source.Signals(ctx)
	if err != nil {
		return SignalBoard{}, fmt.Errorf("%w: %v", ErrSignalFetch, err)
	}
	pf, err := s.trading.Portfolio(ctx, ModePaper)
	if err != nil {
		return SignalBoard{}, err
	}
	alloc := make(map[string]decimal.Decimal, len(pf.Positions))
	for _, h := range pf.Positions {
		alloc[h.Symbol] = h.AllocationPercent.Round(1)
	}

	board := SignalBoard{
		Signals:            []BoardSignal{},
		StrongSignals:      []BoardSignal{},
		MediumSignals:      []BoardSignal{},
		WeakSignals:        []BoardSignal{},
		Recommendations:    []Recommendation{},
		AutoExecuteEnabled: s.autoExecuteStrong,
	}
	for _, sig := range raw {
		if sig.Confidence <= boardMinimum {
			continue
		}
		a, held := alloc[sig.Symbol]
		if sig.Action == "" {
			sig.Action = suggestAction(held, sig.Confidence)
		}
		st := ClassifyStrength(sig.Confidence)
		board.Signals = append(board.Signals, BoardSignal{
			Signal:            sig,
			Strength:          st,
			AutoExecute:       st == StrengthStrong,
			Experimental:      st == StrengthWeak,
			CurrentAllocation: a,
			SuggestedSize:     suggestedSize(st),
		})
	}
	sort.SliceStable(board.Signals, func(i, j int) bool {
		return board.Signals[i].Confidence > board.Signals[j].Confidence
	})

	for _, b := range board.Signals {
		switch b.Strength {
		case StrengthStrong:
			board.StrongSignals = append(board.StrongSignals, b)
		case StrengthMedium:
			board.MediumSignals = append(board.MediumSignals, b)
		default:
			board.WeakSignals = append(board.WeakSignals, b)
		}
	}
	board.Recommendations = append(board.Recommendations,
		recommend(board.StrongSignals, 2, "AUTO_EXECUTE", "Strong signal - Will auto-execute in paper trading")...)
	board.Recommendations = append(board.Recommendations,
		recommend(board.MediumSignals, 2, "MANUAL_REVIEW", "Review and execute if aligned with your strategy")...)
	board.Recommendations = append(board.Recommendations,
		recommend(board.WeakSignals, 1, "EXPERIMENTAL", "Weak signal - Execute manually to train algorithm")...)

	exp, err := s.Experiments(ctx)
	if err != nil {
		return SignalBoard{}, err
	}
	board.Stats = BoardStats{
		Total:                len(board.Signals),
		Strong:               len(board.StrongSignals),
		Medium:               len(board.MediumSignals),
		Weak:                 len(board.WeakSignals),
		WeakExperimentsCount: exp.Count,
		WeakSuccessRate:      exp.SuccessRate,
	}
	return board, nil
}

func recommend(xs []BoardSignal, n int, kind, msg string) []Recommendation {
	out := make([]Recommendation, 0, n)
	for _, b := range xs {
		if len(out) == n {
			break
		}
		out = append(out, Recommendation{BoardSignal: b, Recommendation: kind, Message: msg})
	}
	return out
}

// Execute books a signal through the trading service and records it.
func (s *SignalService) Execute(ctx context.Context, req SignalExecution) (SignalReceipt, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return SignalReceipt{}, &ledger.MissingFieldError{Field: ledger.FieldSymbol}
	}
	if req.Action == "" {
		return SignalReceipt{}, &ledger.MissingFieldError{Field: ledger.FieldAction}
	}
	if req.Mode == "" {
		req.Mode = ModePaper
	}

	price := req.Price
	if !price.IsPositive() {
		if s.prices == nil {
			return SignalReceipt{}, ErrNoPriceOracle
		}
		p, _, err := s.prices.GetPrice(ctx, symbol)
		if err != nil {
			return SignalReceipt{}, fmt.Errorf("%w for %s: %v", ErrPriceLookup, symbol, err)
		}
		price = p
	}

	confidence := float64(defaultConfidence)
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	strength := ClassifyStrength(confidence)
	auto := req.Auto && strength == StrengthStrong && s.autoExecuteStrong
	experiment := req.WeakExperiment || strength == StrengthWeak

	ev := ledger.TradeEvent{
		Symbol:           symbol,
		Action:           req.Action,
		Quantity:         req.Quantity,
		Price:            price,
		Source:           SourceSignalManual,
		SignalConfidence: &confidence,
	}
	if auto {
		ev.Source = SourceSignalAuto
	}
	if experiment {
		ev.ExperimentTag = ExperimentTagWeakSignal
	}

	receipt, err := s.trading.ExecuteEvent(ctx, req.Mode, ev, auto)
	if err != nil {
		return SignalReceipt{}, err
	}

	marketState := req.MarketState
	if marketState == "" {
		marketState = "Unknown"
	}
	rec := SignalRecord{
		ID:            uuid.NewString(),
		SignalID:      req.SignalID,
		TradeID:       receipt.Trade.ID,
		Symbol:        symbol,
		Action:        req.Action,
		Confidence:    confidence,
		Strength:      strength,
		MarketState:   marketState,
		Mode:          req.Mode,
		Quantity:      req.Quantity,
		ExecutedPrice: price,
		Experiment:    experiment,
		Outcome:       OutcomePending,
		Timestamp:     s.now(),
	}
	if rec.SignalID == "" {
		rec.SignalID = fmt.Sprintf("%s-%d", symbol, rec.Timestamp.UnixMilli())
	}
	if err := s.records.Append(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("trade_id", rec.TradeID).Str("symbol", symbol).Msg("Failed to record signal execution")
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("strength", string(strength)).
		Float64("confidence", confidence).
		Bool("auto", auto).
		Bool("experiment", experiment).
		Msg("Signal executed")

	return SignalReceipt{TradeReceipt: receipt, Signal: rec}, nil
}

// Experiments reports on every execution tagged as an experiment.
func (s *SignalService) Experiments(ctx context.Context) (ExperimentStats, error) {
	all, err := s.records.List(ctx, ListFilter{})
	if err != nil {
		return ExperimentStats{}, err
	}
	out := ExperimentStats{Records: []SignalRecord{}}
	success := 0
	for _, r := range all {
		if !r.Experiment {
			continue
		}
		out.Count++
		out.Records = append(out.Records, r)
		switch r.Outcome {
		case OutcomePending:
			out.Pending++
		case "success":
			success++
		}
	}
	if out.Count > 0 {
		out.SuccessRate = int(math.Round(float64(success) / float64(out.Count) * 100))
	}
	return out, nil
}
