package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linchengweiii/sygnl/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSignals struct {
	signals []Signal
	err     error
}

func (s staticSignals) Signals(context.Context) ([]Signal, error) { return s.signals, s.err }

type staticPrices map[string]decimal.Decimal

func (p staticPrices) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	v, ok := p[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, ErrPriceNotFound
	}
	return v, time.Now(), nil
}

func newTestSignals(t *testing.T, source SignalSource, prices PriceOracle) (*SignalService, *TradingService, Backend) {
	t.Helper()
	backend := newMemoryStore()
	trading := newTestTrading(t, backend, TradingConfig{EnforceBuyingPower: true})
	svc := NewSignalService(source, prices, trading, backend.Signals(), true, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, trading, backend
}

func conf(v float64) *float64 { return &v }

func TestClassifyStrength(t *testing.T) {
	cases := []struct {
		confidence float64
		want       SignalStrength
	}{
		{100, StrengthStrong},
		{75, StrengthStrong},
		{74.9, StrengthMedium},
		{60, StrengthMedium},
		{59.9, StrengthWeak},
		{0, StrengthWeak},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyStrength(tc.confidence), "confidence %v", tc.confidence)
	}
}

func TestSuggestAction(t *testing.T) {
	assert.Equal(t, "BUY", suggestAction(false, 30))
	assert.Equal(t, "BUY", suggestAction(false, 90))
	assert.Equal(t, "SELL", suggestAction(true, 45))
	assert.Equal(t, "HOLD", suggestAction(true, 60))
	assert.Equal(t, "BUY", suggestAction(true, 70))
	assert.Equal(t, "ADD", suggestAction(true, 80))
}

func TestSignalService_Board(t *testing.T) {
	ctx := context.Background()
	source := staticSignals{signals: []Signal{
		{ID: "1", Symbol: "MSFT", Action: "BUY", Confidence: 66},
		{ID: "2", Symbol: "NVDA", Action: "BUY", Confidence: 91},
		{ID: "3", Symbol: "TSLA", Action: "BUY", Confidence: 52},
		{ID: "4", Symbol: "GME", Action: "BUY", Confidence: 40},
		{ID: "5", Symbol: "AAPL", Confidence: 78},
		{ID: "6", Symbol: "AMD", Action: "BUY", Confidence: 80},
		{ID: "7", Symbol: "META", Action: "BUY", Confidence: 61},
		{ID: "8", Symbol: "INTC", Action: "BUY", Confidence: 63},
		{ID: "9", Symbol: "PLTR", Action: "BUY", Confidence: 45},
	}}
	svc, trading, _ := newTestSignals(t, source, nil)
	_, err := trading.Execute(ctx, ModePaper, trade("AAPL", "BUY", "10", "280"))
	require.NoError(t, err)

	board, err := svc.Board(ctx)
	require.NoError(t, err)

	require.Len(t, board.Signals, 8, "confidence 40 is filtered out")
	got := make([]string, 0, len(board.Signals))
	for _, s := range board.Signals {
		got = append(got, s.Symbol)
	}
	assert.Equal(t, []string{"NVDA", "AMD", "AAPL", "MSFT", "INTC", "META", "TSLA", "PLTR"}, got)

	require.Len(t, board.StrongSignals, 3)
	require.Len(t, board.MediumSignals, 3)
	require.Len(t, board.WeakSignals, 2)
	assert.True(t, board.StrongSignals[0].AutoExecute)
	assert.True(t, board.WeakSignals[0].Experimental)
	assertDec(t, "8500", board.StrongSignals[0].SuggestedSize)
	assertDec(t, "5000", board.MediumSignals[0].SuggestedSize)
	assertDec(t, "2500", board.WeakSignals[0].SuggestedSize)

	aapl := board.StrongSignals[2]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, "ADD", aapl.Action, "held and strong")
	assertDec(t, "100", aapl.CurrentAllocation)

	require.Len(t, board.Recommendations, 5)
	kinds := []string{}
	for _, r := range board.Recommendations {
		kinds = append(kinds, r.Recommendation+":"+r.Symbol)
	}
	assert.Equal(t, []string{
		"AUTO_EXECUTE:NVDA", "AUTO_EXECUTE:AMD",
		"MANUAL_REVIEW:MSFT", "MANUAL_REVIEW:INTC",
		"EXPERIMENTAL:TSLA",
	}, kinds)

	assert.Equal(t, BoardStats{Total: 8, Strong: 3, Medium: 3, Weak: 2}, board.Stats)
	assert.True(t, board.AutoExecuteEnabled)
}

func TestSignalService_BoardErrors(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newTestSignals(t, nil, nil)
	_, err := svc.Board(ctx)
	assert.ErrorIs(t, err, ErrNoSignalSource)

	svc, _, _ = newTestSignals(t, staticSignals{err: errors.New("connection refused")}, nil)
	_, err = svc.Board(ctx)
	assert.ErrorIs(t, err, ErrSignalFetch)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSignalService_ExecuteStrongAuto(t *testing.T) {
	ctx := context.Background()
	svc, trading, _ := newTestSignals(t, nil, nil)

	r, err := svc.Execute(ctx, SignalExecution{
		SignalID:    "sig-1",
		Symbol:      "nvda",
		Action:      ledger.ActionBuy,
		Confidence:  conf(88),
		MarketState: "Trending",
		Quantity:    d("10"),
		Price:       d("175"),
		Auto:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, SourceSignalAuto, r.Trade.Source)
	assert.True(t, r.Trade.AutoExecuted)
	assert.Empty(t, r.Trade.ExperimentTag)
	assert.Equal(t, ModePaper, r.Mode)
	assert.Equal(t, "Auto-executed: BUY 10 shares of NVDA @ $175.00", r.Message)

	assert.Equal(t, "sig-1", r.Signal.SignalID)
	assert.Equal(t, r.Trade.ID, r.Signal.TradeID)
	assert.Equal(t, StrengthStrong, r.Signal.Strength)
	assert.False(t, r.Signal.Experiment)
	assert.Equal(t, OutcomePending, r.Signal.Outcome)

	p, err := trading.Position(ctx, ModePaper, "NVDA")
	require.NoError(t, err)
	require.NotNil(t, p.SignalConfidence)
	assert.InDelta(t, 88, *p.SignalConfidence, 1e-9)
}

func TestSignalService_ExecuteAutoNeedsStrong(t *testing.T) {
	svc, _, _ := newTestSignals(t, nil, nil)
	r, err := svc.Execute(context.Background(), SignalExecution{
		Symbol:     "MSFT",
		Action:     ledger.ActionBuy,
		Confidence: conf(65),
		Quantity:   d("1"),
		Price:      d("400"),
		Auto:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, SourceSignalManual, r.Trade.Source)
	assert.False(t, r.Trade.AutoExecuted)
	assert.Equal(t, "Executed: BUY 1 shares of MSFT @ $400.00", r.Message)
}

func TestSignalService_ExecuteWeakIsExperiment(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestSignals(t, nil, staticPrices{"TSLA": d("250")})

	r, err := svc.Execute(ctx, SignalExecution{
		Symbol:     "TSLA",
		Action:     ledger.ActionBuy,
		Confidence: conf(52),
		Mode:       ModeLive,
		Quantity:   d("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, ModeLive, r.Mode)
	assertDec(t, "250", r.Trade.Price, "price filled from the oracle")
	assert.Equal(t, ExperimentTagWeakSignal, r.Trade.ExperimentTag)
	assert.True(t, r.Signal.Experiment)
	assert.Equal(t, "Unknown", r.Signal.MarketState)
	assert.Equal(t, "TSLA-1740830400000", r.Signal.SignalID)

	stats, err := svc.Experiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.SuccessRate)
	require.Len(t, stats.Records, 1)
}

func TestSignalService_ExecuteDefaultsConfidence(t *testing.T) {
	svc, _, _ := newTestSignals(t, nil, nil)
	r, err := svc.Execute(context.Background(), SignalExecution{
		Symbol:         "AAPL",
		Action:         ledger.ActionBuy,
		Quantity:       d("1"),
		Price:          d("280"),
		WeakExperiment: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 70, r.Signal.Confidence, 1e-9)
	assert.Equal(t, StrengthMedium, r.Signal.Strength)
	assert.True(t, r.Signal.Experiment, "flagged by the caller")
}

func TestSignalService_ExecuteErrors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestSignals(t, nil, nil)

	_, err := svc.Execute(ctx, SignalExecution{Symbol: "AAPL", Action: ledger.ActionBuy, Quantity: d("1")})
	assert.ErrorIs(t, err, ErrNoPriceOracle)

	svc, _, backend := newTestSignals(t, nil, staticPrices{})
	_, err = svc.Execute(ctx, SignalExecution{Symbol: "AAPL", Action: ledger.ActionBuy, Quantity: d("1")})
	assert.ErrorIs(t, err, ErrPriceLookup)

	_, err = svc.Execute(ctx, SignalExecution{Action: ledger.ActionBuy, Quantity: d("1"), Price: d("1")})
	var missing *ledger.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, ledger.FieldSymbol, missing.Field)

	_, err = svc.Execute(ctx, SignalExecution{Symbol: "AAPL", Action: ledger.ActionBuy, Quantity: d("100"), Price: d("280")})
	var bp *InsufficientBuyingPowerError
	assert.ErrorAs(t, err, &bp)

	recs, err := backend.Signals().List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs, "rejected executions are not recorded")
}

func TestSignalService_ExperimentSuccessRate(t *testing.T) {
	ctx := context.Background()
	svc, _, backend := newTestSignals(t, nil, nil)
	for i, outcome := range []string{"success", "failure", OutcomePending} {
		require.NoError(t, backend.Signals().Append(ctx, SignalRecord{
			ID:         string(rune('a' + i)),
			Symbol:     "TSLA",
			Experiment: true,
			Outcome:    outcome,
		}))
	}
	require.NoError(t, backend.Signals().Append(ctx, SignalRecord{ID: "z", Symbol: "NVDA", Outcome: "success"}))

	stats, err := svc.Experiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 33, stats.SuccessRate)
}
