package main

import (
	"context"
	"strings"
	"sync"

	"github.com/linchengweiii/sygnl/ledger"
)

// ===== In-memory adapters =====

type memoryStore struct {
	mu        sync.RWMutex
	positions map[Mode]map[string]ledger.Position
	trades    map[Mode][]ledger.TradeRecord // append order
	signals   []SignalRecord
	snapshots []Snapshot
}

func newMemoryStore() *memoryStore {
	s := &memoryStore{
		positions: make(map[Mode]map[string]ledger.Position),
		trades:    make(map[Mode][]ledger.TradeRecord),
	}
	for _, m := range modes {
		s.positions[m] = make(map[string]ledger.Position)
	}
	return s
}

func (s *memoryStore) Kind() string { return "memory" }
func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Positions(mode Mode) ledger.Store {
	return &memoryPositionRepo{s: s, mode: mode}
}

func (s *memoryStore) History(mode Mode) TradeHistoryRepository {
	return &memoryHistoryRepo{s: s, mode: mode}
}

func (s *memoryStore) Signals() SignalRepository     { return &memorySignalRepo{s: s} }
func (s *memoryStore) Snapshots() SnapshotRepository { return &memorySnapshotRepo{s: s} }

/* ---- Position repo ---- */

type memoryPositionRepo struct {
	s    *memoryStore
	mode Mode
}

func (r *memoryPositionRepo) Get(_ context.Context, symbol string) (*ledger.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.positions[r.mode][symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryPositionRepo) Set(_ context.Context, symbol string, p ledger.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.positions[r.mode][symbol] = p
	return nil
}

func (r *memoryPositionRepo) Delete(_ context.Context, symbol string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.positions[r.mode], symbol)
	return nil
}

func (r *memoryPositionRepo) List(_ context.Context) ([]ledger.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]ledger.Position, 0, len(r.s.positions[r.mode]))
	for _, p := range r.s.positions[r.mode] {
		out = append(out, p)
	}
	insertionSort(out, func(a, b ledger.Position) bool { return a.Symbol < b.Symbol })
	return out, nil
}

/* ---- History repo ---- */

type memoryHistoryRepo struct {
	s    *memoryStore
	mode Mode
}

func (r *memoryHistoryRepo) Append(_ context.Context, rec ledger.TradeRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.trades[r.mode] = append(r.s.trades[r.mode], rec)
	return nil
}

func (r *memoryHistoryRepo) List(_ context.Context, filter ListFilter) ([]ledger.TradeRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]ledger.TradeRecord, 0, len(r.s.trades[r.mode]))
	for _, rec := range newestFirst(r.s.trades[r.mode]) {
		if matchTrade(rec, filter) {
			out = append(out, rec)
		}
	}
	return page(out, filter.Offset, filter.Limit), nil
}

func (r *memoryHistoryRepo) Trim(_ context.Context, keep int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := tail(r.s.trades[r.mode], keep)
	r.s.trades[r.mode] = append([]ledger.TradeRecord(nil), kept...)
	return nil
}

/* ---- Signal repo ---- */

type memorySignalRepo struct{ s *memoryStore }

func (r *memorySignalRepo) Append(_ context.Context, rec SignalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.signals = append(r.s.signals, rec)
	return nil
}

func (r *memorySignalRepo) List(_ context.Context, filter ListFilter) ([]SignalRecord, error) {
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

/* ---- Snapshot repo ---- */

type memorySnapshotRepo struct{ s *memoryStore }

func (r *memorySnapshotRepo) Append(_ context.Context, snap Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.snapshots = append(r.s.snapshots, snap)
	return nil
}

func (r *memorySnapshotRepo) List(_ context.Context, mode Mode, limit int) ([]Snapshot, error) {
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
