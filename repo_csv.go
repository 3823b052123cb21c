package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/linchengweiii/sygnl/ledger"
	"github.com/shopspring/decimal"
)

/*
CSV layout

positions.csv
mode,symbol,quantity,entry_price,cost_basis,current_price,signal_confidence,source,last_updated

trades.csv
id,mode,symbol,action,quantity,price,value,realized_pl,source,signal_confidence,experiment_tag,auto_executed,timestamp

signals.csv
id,signal_id,trade_id,symbol,action,confidence,strength,market_state,mode,quantity,executed_price,experiment,outcome,timestamp

snapshots.csv
id,mode,total_value,total_invested,total_pl,buying_power,positions,taken_at

Notes:
- decimals are written with String(), never rounded
- timestamps = RFC3339Nano
- derived position fields (value, P&L) are not stored; they are recomputed on load
- We keep an in-memory index and write the entire file atomically after each mutation.
*/

const tsLayout = time.RFC3339Nano

var (
	positionsHeader = []string{"mode", "symbol", "quantity", "entry_price", "cost_basis", "current_price", "signal_confidence", "source", "last_updated"}
	tradesHeader    = []string{"id", "mode", "symbol", "action", "quantity", "price", "value", "realized_pl", "source", "signal_confidence", "experiment_tag", "auto_executed", "timestamp"}
	signalsHeader   = []string{"id", "signal_id", "trade_id", "symbol", "action", "confidence", "strength", "market_state", "mode", "quantity", "executed_price", "experiment", "outcome", "timestamp"}
	snapshotsHeader = []string{"id", "mode", "total_value", "total_invested", "total_pl", "buying_power", "positions", "taken_at"}
)

type csvStore struct {
	dir      string
	posPath  string
	txPath   string
	sigPath  string
	snapPath string

	mu        sync.RWMutex
	positions map[Mode]map[string]ledger.Position
	trades    []csvTrade // append order, all modes
	signals   []SignalRecord
	snapshots []Snapshot
}

type csvTrade struct {
	mode Mode
	rec  ledger.TradeRecord
}

func NewCSVStore(dir string) (*csvStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &csvStore{
		dir:       dir,
		posPath:   filepath.Join(dir, "positions.csv"),
		txPath:    filepath.Join(dir, "trades.csv"),
		sigPath:   filepath.Join(dir, "signals.csv"),
		snapPath:  filepath.Join(dir, "snapshots.csv"),
		positions: map[Mode]map[string]ledger.Position{},
	}
	for _, m := range modes {
		s.positions[m] = map[string]ledger.Position{}
	}
	if err := s.ensureFiles(); err != nil {
		return nil, err
	}
	for _, load := range []func() error{s.loadPositions, s.loadTrades, s.loadSignals, s.loadSnapshots} {
		if err := load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *csvStore) Kind() string { return "csv" }
func (s *csvStore) Close() error { return nil }

func (s *csvStore) Positions(mode Mode) ledger.Store         { return &csvPositionRepo{s: s, mode: mode} }
func (s *csvStore) History(mode Mode) TradeHistoryRepository { return &csvHistoryRepo{s: s, mode: mode} }
func (s *csvStore) Signals() SignalRepository                { return &csvSignalRepo{s: s} }
func (s *csvStore) Snapshots() SnapshotRepository            { return &csvSnapshotRepo{s: s} }

func (s *csvStore) ensureFiles() error {
	for path, header := range map[string][]string{
		s.posPath:  positionsHeader,
		s.txPath:   tradesHeader,
		s.sigPath:  signalsHeader,
		s.snapPath: snapshotsHeader,
	} {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := atomicWriteCSV(path, [][]string{header}); err != nil {
				return err
			}
		}
	}
	return nil
}

// readRows returns every data row (header skipped) with at least width cells.
func readRows(path string, width int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	out := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < width {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *csvStore) loadPositions() error {
	rows, err := readRows(s.posPath, len(positionsHeader))
	if err != nil {
		return err
	}
	for _, row := range rows {
		mode := Mode(row[0])
		if _, ok := s.positions[mode]; !ok {
			continue
		}
		qty, err := decimal.NewFromString(row[2])
		if err != nil || !qty.IsPositive() {
			continue
		}
		lastUpdated, err := parseTimestamp(row[8])
		if err != nil {
			return fmt.Errorf("%s: position %s: %w", s.posPath, row[1], err)
		}
		p := ledger.Position{
			Symbol:           row[1],
			Quantity:         qty,
			EntryPrice:       parseDecimal(row[3]),
			CostBasis:        parseDecimal(row[4]),
			SignalConfidence: parseOptFloat(row[6]),
			Source:           row[7],
			LastUpdated:      lastUpdated,
		}
		p.Mark(parseDecimal(row[5]))
		s.positions[mode][p.Symbol] = p
	}
	return nil
}

func (s *csvStore) loadTrades() error {
	rows, err := readRows(s.txPath, len(tradesHeader))
	if err != nil {
		return err
	}
	for _, row := range rows {
		ts, err := parseTimestamp(row[12])
		if err != nil {
			return fmt.Errorf("%s: trade %s: %w", s.txPath, row[0], err)
		}
		autoExecuted, _ := strconv.ParseBool(row[11])
		rec := ledger.TradeRecord{
			ID: row[0],
			TradeEvent: ledger.TradeEvent{
				Symbol:           row[2],
				Action:           ledger.Action(row[3]),
				Quantity:         parseDecimal(row[4]),
				Price:            parseDecimal(row[5]),
				Source:           row[8],
				SignalConfidence: parseOptFloat(row[9]),
				ExperimentTag:    row[10],
			},
			Value:        parseDecimal(row[6]),
			RealizedPL:   parseDecimal(row[7]),
			AutoExecuted: autoExecuted,
			Timestamp:    ts,
		}
		s.trades = append(s.trades, csvTrade{mode: Mode(row[1]), rec: rec})
	}
	return nil
}

func (s *csvStore) loadSignals() error {
	rows, err := readRows(s.sigPath, len(signalsHeader))
	if err != nil {
		return err
	}
	for _, row := range rows {
		confidence, _ := strconv.ParseFloat(row[5], 64)
		experiment, _ := strconv.ParseBool(row[11])
		ts, err := parseTimestamp(row[13])
		if err != nil {
			return fmt.Errorf("%s: signal %s: %w", s.sigPath, row[0], err)
		}
		s.signals = append(s.signals, SignalRecord{
			ID:            row[0],
			SignalID:      row[1],
			TradeID:       row[2],
			Symbol:        row[3],
			Action:        ledger.Action(row[4]),
			Confidence:    confidence,
			Strength:      SignalStrength(row[6]),
			MarketState:   row[7],
			Mode:          Mode(row[8]),
			Quantity:      parseDecimal(row[9]),
			ExecutedPrice: parseDecimal(row[10]),
			Experiment:    experiment,
			Outcome:       row[12],
			Timestamp:     ts,
		})
	}
	return nil
}

func (s *csvStore) loadSnapshots() error {
	rows, err := readRows(s.snapPath, len(snapshotsHeader))
	if err != nil {
		return err
	}
	for _, row := range rows {
		n, _ := strconv.Atoi(row[6])
		takenAt, err := parseTimestamp(row[7])
		if err != nil {
			return fmt.Errorf("%s: snapshot %s: %w", s.snapPath, row[0], err)
		}
		s.snapshots = append(s.snapshots, Snapshot{
			ID:            row[0],
			Mode:          Mode(row[1]),
			TotalValue:    parseDecimal(row[2]),
			TotalInvested: parseDecimal(row[3]),
			TotalPL:       parseDecimal(row[4]),
			BuyingPower:   parseDecimal(row[5]),
			Positions:     n,
			TakenAt:       takenAt,
		})
	}
	return nil
}

func (s *csvStore) savePositionsLocked() error {
	rows := [][]string{positionsHeader}
	for _, m := range modes {
		ps := make([]ledger.Position, 0, len(s.positions[m]))
		for _, p := range s.positions[m] {
			ps = append(ps, p)
		}
		insertionSort(ps, func(a, b ledger.Position) bool { return a.Symbol < b.Symbol })
		for _, p := range ps {
			rows = append(rows, []string{
				string(m),
				p.Symbol,
				p.Quantity.String(),
				p.EntryPrice.String(),
				p.CostBasis.String(),
				p.CurrentPrice.String(),
				formatOptFloat(p.SignalConfidence),
				p.Source,
				p.LastUpdated.Format(tsLayout),
			})
		}
	}
	return atomicWriteCSV(s.posPath, rows)
}

func (s *csvStore) saveTradesLocked() error {
	rows := make([][]string, 0, len(s.trades)+1)
	rows = append(rows, tradesHeader)
	for _, t := range s.trades {
		rec := t.rec
		rows = append(rows, []string{
			rec.ID,
			string(t.mode),
			rec.Symbol,
			string(rec.Action),
			rec.Quantity.String(),
			rec.Price.String(),
			rec.Value.String(),
			rec.RealizedPL.String(),
			rec.Source,
			formatOptFloat(rec.SignalConfidence),
			rec.ExperimentTag,
			strconv.FormatBool(rec.AutoExecuted),
			rec.Timestamp.Format(tsLayout),
		})
	}
	return atomicWriteCSV(s.txPath, rows)
}

func (s *csvStore) saveSignalsLocked() error {
	rows := make([][]string, 0, len(s.signals)+1)
	rows = append(rows, signalsHeader)
	for _, r := range s.signals {
		rows = append(rows, []string{
			r.ID,
			r.SignalID,
			r.TradeID,
			r.Symbol,
			string(r.Action),
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			string(r.Strength),
			r.MarketState,
			string(r.Mode),
			r.Quantity.String(),
			r.ExecutedPrice.String(),
			strconv.FormatBool(r.Experiment),
			r.Outcome,
			r.Timestamp.Format(tsLayout),
		})
	}
	return atomicWriteCSV(s.sigPath, rows)
}

func (s *csvStore) saveSnapshotsLocked() error {
	rows := make([][]string, 0, len(s.snapshots)+1)
	rows = append(rows, snapshotsHeader)
	for _, snap := range s.snapshots {
		rows = append(rows, []string{
			snap.ID,
			string(snap.Mode),
			snap.TotalValue.String(),
			snap.TotalInvested.String(),
			snap.TotalPL.String(),
			snap.BuyingPower.String(),
			strconv.Itoa(snap.Positions),
			snap.TakenAt.Format(tsLayout),
		})
	}
	return atomicWriteCSV(s.snapPath, rows)
}

func atomicWriteCSV(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*.csv")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseTimestamp reads a stored timestamp. Empty means unset.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func formatOptFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

/* ======================== Position repo ======================== */

type csvPositionRepo struct {
	s    *csvStore
	mode Mode
}

func (r *csvPositionRepo) Get(_ context.Context, symbol string) (*ledger.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.positions[r.mode][symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Set and Delete roll the index back when the file write fails so memory
// never runs ahead of disk.
func (r *csvPositionRepo) Set(_ context.Context, symbol string, p ledger.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, had := r.s.positions[r.mode][symbol]
	r.s.positions[r.mode][symbol] = p
	if err := r.s.savePositionsLocked(); err != nil {
		if had {
			r.s.positions[r.mode][symbol] = old
		} else {
			delete(r.s.positions[r.mode], symbol)
		}
		return err
	}
	return nil
}

func (r *csvPositionRepo) Delete(_ context.Context, symbol string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, had := r.s.positions[r.mode][symbol]
	if !had {
		return nil
	}
	delete(r.s.positions[r.mode], symbol)
	if err := r.s.savePositionsLocked(); err != nil {
		r.s.positions[r.mode][symbol] = old
		return err
	}
	return nil
}

func (r *csvPositionRepo) List(_ context.Context) ([]ledger.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]ledger.Position, 0, len(r.s.positions[r.mode]))
	for _, p := range r.s.positions[r.mode] {
		out = append(out, p)
	}
	insertionSort(out, func(a, b ledger.Position) bool { return a.Symbol < b.Symbol })
	return out, nil
}

/* ======================== History repo ======================== */

type csvHistoryRepo struct {
	s    *csvStore
	mode Mode
}

func (r *csvHistoryRepo) Append(_ context.Context, rec ledger.TradeRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.trades = append(r.s.trades, csvTrade{mode: r.mode, rec: rec})
	if err := r.s.saveTradesLocked(); err != nil {
		r.s.trades = r.s.trades[:len(r.s.trades)-1]
		return err
	}
	return nil
}

func (r *csvHistoryRepo) List(_ context.Context, filter ListFilter) ([]ledger.TradeRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]ledger.TradeRecord, 0, 32)
	for i := len(r.s.trades) - 1; i >= 0; i-- {
		t := r.s.trades[i]
		if t.mode != r.mode || !matchTrade(t.rec, filter) {
			continue
		}
		out = append(out, t.rec)
	}
	return page(out, filter.Offset, filter.Limit), nil
}

func (r *csvHistoryRepo) Trim(_ context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, t := range r.s.trades {
		if t.mode == r.mode {
			count++
		}
	}
	drop := count - keep
	if drop <= 0 {
		return nil
	}
	kept := make([]csvTrade, 0, len(r.s.trades)-drop)
	for _, t := range r.s.trades {
		if t.mode == r.mode && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, t)
	}
	old := r.s.trades
	r.s.trades = kept
	if err := r.s.saveTradesLocked(); err != nil {
		r.s.trades = old
		return err
	}
	return nil
}

/* ======================== Signal repo ======================== */

type csvSignalRepo struct{ s *csvStore }

func (r *csvSignalRepo) Append(_ context.Context, rec SignalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.signals = append(r.s.signals, rec)
	if err := r.s.saveSignalsLocked(); err != nil {
		r.s.signals = r.s.signals[:len(r.s.signals)-1]
		return err
	}
	return nil
}

func (r *csvSignalRepo) List(_ context.Context, filter ListFilter) ([]SignalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]SignalRecord, 0, len(r.s.signals))
	for _, rec := range newestFirst(r.s.signals) {
		if filter.Symbol != "" && !strings.EqualFold(filter.Symbol, rec.Symbol) {
			continue
		}
		out = append(out, rec)
	}
	return page(out, filter.Offset, filter.Limit), nil
}

/* ======================== Snapshot repo ======================== */

type csvSnapshotRepo struct{ s *csvStore }

func (r *csvSnapshotRepo) Append(_ context.Context, snap Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.snapshots = append(r.s.snapshots, snap)
	if err := r.s.saveSnapshotsLocked(); err != nil {
		r.s.snapshots = r.s.snapshots[:len(r.s.snapshots)-1]
		return err
	}
	return nil
}

func (r *csvSnapshotRepo) List(_ context.Context, mode Mode, limit int) ([]Snapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.s.snapshots))
	for _, snap := range r.s.snapshots {
		if snap.Mode == mode {
			out = append(out, snap)
		}
	}
	return tail(out, limit), nil
}
