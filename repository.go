package main

import (
	"context"
	"strings"

	"github.com/linchengweiii/sygnl/ledger"
)

// ===== Ports (interfaces) =====

type ListFilter struct {
	Symbol string
	Source string
	Limit  int
	Offset int
}

// TradeHistoryRepository is the capped audit log of applied trades for one
// mode. List returns newest first.
type TradeHistoryRepository interface {
	ledger.HistorySink
	List(ctx context.Context, filter ListFilter) ([]ledger.TradeRecord, error)
	// Trim drops all but the newest keep records.
	Trim(ctx context.Context, keep int) error
}

type SignalRepository interface {
	Append(ctx context.Context, rec SignalRecord) error
	// List returns newest first. Symbol filters; Source is ignored.
	List(ctx context.Context, filter ListFilter) ([]SignalRecord, error)
}

type SnapshotRepository interface {
	Append(ctx context.Context, s Snapshot) error
	// List returns up to limit snapshots for mode, oldest first. limit <= 0
	// means all of them.
	List(ctx context.Context, mode Mode, limit int) ([]Snapshot, error)
}

// Backend bundles every repository a running service needs. Positions and
// History are scoped per mode.
type Backend interface {
	Kind() string
	Positions(mode Mode) ledger.Store
	History(mode Mode) TradeHistoryRepository
	Signals() SignalRepository
	Snapshots() SnapshotRepository
	Close() error
}

/* ======================== small helpers ======================== */
func insertionSort[T any](xs []T, less func(a, b T) bool) {
	for i := 1; i < len(xs); i++ {
		j := i
		for j > 0 && less(xs[j], xs[j-1]) {
			xs[j], xs[j-1] = xs[j-1], xs[j]
			j--
		}
	}
}

// page applies offset/limit to an already filtered, ordered slice.
func page[T any](xs []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(xs) {
		return []T{}
	}
	end := len(xs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return xs[offset:end]
}

// matchTrade reports whether rec passes the symbol/source filter.
func matchTrade(rec ledger.TradeRecord, f ListFilter) bool {
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, rec.Symbol) {
		return false
	}
	if f.Source != "" && !strings.EqualFold(f.Source, rec.Source) {
		return false
	}
	return true
}

// newestFirst returns a reversed copy of an append-ordered slice.
func newestFirst[T any](xs []T) []T {
	out := make([]T, len(xs))
	for i, x := range xs {
		out[len(xs)-1-i] = x
	}
	return out
}

// tail returns the last n elements (all when n <= 0).
func tail[T any](xs []T, n int) []T {
	if n <= 0 || n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}
