package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linchengweiii/sygnl/ledger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func newTestSQLite(t *testing.T) *sqliteBackend {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	b, err := NewSQLiteBackend(db, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// backendFactories runs a test against every Backend implementation.
func backendFactories() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return newMemoryStore() },
		"csv": func(t *testing.T) Backend {
			s, err := NewCSVStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Backend { return newTestSQLite(t) },
	}
}

func testPosition(symbol, qty, cost, price string) ledger.Position {
	p := ledger.Position{
		Symbol:      symbol,
		Quantity:    d(qty),
		CostBasis:   d(cost),
		EntryPrice:  d(cost).Div(d(qty)),
		Source:      SourceManual,
		LastUpdated: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	p.Mark(d(price))
	return p
}

func testTrade(id, symbol, source string) ledger.TradeRecord {
	return ledger.TradeRecord{
		ID: id,
		TradeEvent: ledger.TradeEvent{
			Symbol:   symbol,
			Action:   ledger.ActionBuy,
			Quantity: d("2"),
			Price:    d("10.5"),
			Source:   source,
		},
		Value:      d("21"),
		RealizedPL: decimal.Zero,
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBackend_Positions(t *testing.T) {
	for name, open := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			store := b.Positions(ModePaper)

			got, err := store.Get(ctx, "AAPL")
			require.NoError(t, err)
			assert.Nil(t, got)

			conf := 82.5
			p := testPosition("AAPL", "10", "2800", "300")
			p.SignalConfidence = &conf
			require.NoError(t, store.Set(ctx, "AAPL", p))
			require.NoError(t, store.Set(ctx, "NVDA", testPosition("NVDA", "16", "2800", "175")))

			got, err = store.Get(ctx, "AAPL")
			require.NoError(t, err)
			require.NotNil(t, got)
			assertDec(t, "10", got.Quantity)
			assertDec(t, "280", got.EntryPrice)
			assertDec(t, "2800", got.CostBasis)
			assertDec(t, "3000", got.CurrentValue)
			assertDec(t, "200", got.UnrealizedPL)
			require.NotNil(t, got.SignalConfidence)
			assert.InDelta(t, 82.5, *got.SignalConfidence, 1e-9)
			assert.Equal(t, SourceManual, got.Source)

			// upsert
			require.NoError(t, store.Set(ctx, "AAPL", testPosition("AAPL", "5", "1400", "300")))
			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "AAPL", list[0].Symbol)
			assert.Equal(t, "NVDA", list[1].Symbol)
			assertDec(t, "5", list[0].Quantity)

			require.NoError(t, store.Delete(ctx, "AAPL"))
			got, err = store.Get(ctx, "AAPL")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestBackend_PositionsAreScopedByMode(t *testing.T) {
	for name, open := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			require.NoError(t, b.Positions(ModePaper).Set(ctx, "AAPL", testPosition("AAPL", "1", "100", "100")))

			live, err := b.Positions(ModeLive).List(ctx)
			require.NoError(t, err)
			assert.Empty(t, live)
		})
	}
}

func TestBackend_HistoryOrderFilterAndPaging(t *testing.T) {
	for name, open := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := open(t).History(ModePaper)
			require.NoError(t, h.Append(ctx, testTrade("t1", "AAPL", SourceManual)))
			require.NoError(t, h.Append(ctx, testTrade("t2", "NVDA", SourceSignalAuto)))
			require.NoError(t, h.Append(ctx, testTrade("t3", "AAPL", SourceSignalManual)))

			all, err := h.List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"t3", "t2", "t1"}, []string{all[0].ID, all[1].ID, all[2].ID})
			assertDec(t, "21", all[0].Value)
			assertDec(t, "10.5", all[0].Price)

			aapl, err := h.List(ctx, ListFilter{Symbol: "aapl"})
			require.NoError(t, err)
			assert.Len(t, aapl, 2)

			auto, err := h.List(ctx, ListFilter{Source: SourceSignalAuto})
			require.NoError(t, err)
			require.Len(t, auto, 1)
			assert.Equal(t, "t2", auto[0].ID)

			paged, err := h.List(ctx, ListFilter{Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, paged, 1)
			assert.Equal(t, "t2", paged[0].ID)

			past, err := h.List(ctx, ListFilter{Offset: 10})
			require.NoError(t, err)
			assert.Empty(t, past)
		})
	}
}

func TestBackend_HistoryTrimKeepsNewest(t *testing.T) {
	for name, open := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			paper, live := b.History(ModePaper), b.History(ModeLive)
			for i := 1; i <= 5; i++ {
				require.NoError(t, paper.Append(ctx, testTrade(fmt.Sprintf("p%d", i), "AAPL", SourceManual)))
			}
			require.NoError(t, live.Append(ctx, testTrade("l1", "AAPL", SourceManual)))

			require.NoError(t, paper.Trim(ctx, 2))

			got, err := paper.List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "p5", got[0].ID)
			assert.Equal(t, "p4", got[1].ID)

			other, err := live.List(ctx, ListFilter{})
			require.NoError(t, err)
			assert.Len(t, other, 1, "trim must not touch the other mode")
		})
	}
}

func TestBackend_SignalsAndSnapshots(t *testing.T) {
	for name, open := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

			for i, sym := range []string{"AAPL", "TSLA"} {
				require.NoError(t, b.Signals().Append(ctx, SignalRecord{
					ID:            fmt.Sprintf("s%d", i),
					Symbol:        sym,
					Action:        ledger.ActionBuy,
					Confidence:    52,
					Strength:      StrengthWeak,
					MarketState:   "Fragile",
					Mode:          ModePaper,
					Quantity:      d("1"),
					ExecutedPrice: d("250"),
					Experiment:    true,
					Outcome:       OutcomePending,
					Timestamp:     now,
				}))
			}
			sigs, err := b.Signals().List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, sigs, 2)
			assert.Equal(t, "TSLA", sigs[0].Symbol)
			assert.True(t, sigs[0].Experiment)
			assert.Equal(t, StrengthWeak, sigs[0].Strength)
			assertDec(t, "250", sigs[0].ExecutedPrice)

			for i := 0; i < 3; i++ {
				require.NoError(t, b.Snapshots().Append(ctx, Snapshot{
					ID:         fmt.Sprintf("n%d", i),
					Mode:       ModePaper,
					TotalValue: decimal.NewFromInt(int64(1000 + i)),
					TakenAt:    now.Add(time.Duration(i) * time.Minute),
				}))
			}
			require.NoError(t, b.Snapshots().Append(ctx, Snapshot{ID: "live", Mode: ModeLive, TakenAt: now}))

			snaps, err := b.Snapshots().List(ctx, ModePaper, 2)
			require.NoError(t, err)
			require.Len(t, snaps, 2)
			assert.Equal(t, "n1", snaps[0].ID, "oldest of the newest two first")
			assert.Equal(t, "n2", snaps[1].ID)
		})
	}
}

func TestCSVStore_ReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewCSVStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Positions(ModeLive).Set(ctx, "NVDA", testPosition("NVDA", "16", "2800", "175")))
	require.NoError(t, s.History(ModeLive).Append(ctx, testTrade("t1", "NVDA", SourceManual)))

	reopened, err := NewCSVStore(dir)
	require.NoError(t, err)
	p, err := reopened.Positions(ModeLive).Get(ctx, "NVDA")
	require.NoError(t, err)
	require.NotNil(t, p)
	assertDec(t, "16", p.Quantity)
	assertDec(t, "2800", p.CurrentValue)
	assert.True(t, p.LastUpdated.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))

	hist, err := reopened.History(ModeLive).List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "t1", hist[0].ID)
}

func TestCSVStore_RejectsCorruptTimestamp(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.History(ModePaper).Append(context.Background(), testTrade("t1", "AAPL", SourceManual)))

	path := filepath.Join(dir, "trades.csv")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupt := strings.Replace(string(raw), "2025-03-01T12:00:00Z", "yesterday", 1)
	require.NotEqual(t, string(raw), corrupt)
	require.NoError(t, os.WriteFile(path, []byte(corrupt), 0o600))

	_, err = NewCSVStore(dir)
	assert.ErrorContains(t, err, `bad timestamp "yesterday"`)
	assert.ErrorContains(t, err, "trade t1")
}

func TestSQLiteBackend_RejectsCorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLite(t)
	_, err := b.db.Exec(`
		INSERT INTO trades (id, mode, symbol, action, quantity, price, value, realized_pl, timestamp)
		VALUES ('t1', 'paper', 'AAPL', 'BUY', '1', '280', '280', '0', 'yesterday')`)
	require.NoError(t, err)
	_, err = b.db.Exec(`
		INSERT INTO positions (mode, symbol, quantity, entry_price, cost_basis, current_price, last_updated)
		VALUES ('paper', 'AAPL', '1', '280', '280', '280', 'yesterday')`)
	require.NoError(t, err)

	_, err = b.History(ModePaper).List(ctx, ListFilter{})
	assert.ErrorContains(t, err, `bad timestamp "yesterday"`)
	_, err = b.Positions(ModePaper).Get(ctx, "AAPL")
	assert.ErrorContains(t, err, "position AAPL")
}
