package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/linchengweiii/sygnl/ledger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ===== SQLite adapters =====
//
// Decimals go through decimal.Decimal's Valuer/Scanner and land in TEXT
// columns. Timestamps are RFC3339Nano TEXT. Rows are ordered by an
// autoincrement seq so "newest first" is stable even for equal timestamps.

type sqliteBackend struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteBackend wraps an open database and creates missing tables.
func NewSQLiteBackend(db *sql.DB, log zerolog.Logger) (*sqliteBackend, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &sqliteBackend{
		db:  db,
		log: log.With().Str("repo", "sqlite").Logger(),
	}, nil
}

func (b *sqliteBackend) Kind() string { return "sqlite" }
func (b *sqliteBackend) Close() error { return b.db.Close() }

func (b *sqliteBackend) Positions(mode Mode) ledger.Store {
	return &sqlitePositionRepo{db: b.db, mode: mode}
}

func (b *sqliteBackend) History(mode Mode) TradeHistoryRepository {
	return &sqliteHistoryRepo{db: b.db, mode: mode, log: b.log}
}

func (b *sqliteBackend) Signals() SignalRepository     { return &sqliteSignalRepo{db: b.db} }
func (b *sqliteBackend) Snapshots() SnapshotRepository { return &sqliteSnapshotRepo{db: b.db} }

/* ---- Position repo ---- */

type sqlitePositionRepo struct {
	db   *sql.DB
	mode Mode
}

const positionColumns = `symbol, quantity, entry_price, cost_basis, current_price, signal_confidence, source, last_updated`

func (r *sqlitePositionRepo) Get(ctx context.Context, symbol string) (*ledger.Position, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE mode = ? AND symbol = ?`, string(r.mode), symbol)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *sqlitePositionRepo) Set(ctx context.Context, symbol string, p ledger.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (mode, `+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mode, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			entry_price = excluded.entry_price,
			cost_basis = excluded.cost_basis,
			current_price = excluded.current_price,
			signal_confidence = excluded.signal_confidence,
			source = excluded.source,
			last_updated = excluded.last_updated`,
		string(r.mode), symbol,
		p.Quantity, p.EntryPrice, p.CostBasis, p.CurrentPrice,
		nullFloat(p.SignalConfidence), p.Source, p.LastUpdated.Format(tsLayout),
	)
	return err
}

func (r *sqlitePositionRepo) Delete(ctx context.Context, symbol string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE mode = ? AND symbol = ?`, string(r.mode), symbol)
	return err
}

// List reads the whole set with one query.
func (r *sqlitePositionRepo) List(ctx context.Context) ([]ledger.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE mode = ? ORDER BY symbol`, string(r.mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(s rowScanner) (ledger.Position, error) {
	var (
		p           ledger.Position
		price       decimal.Decimal
		confidence  sql.NullFloat64
		lastUpdated string
	)
	if err := s.Scan(&p.Symbol, &p.Quantity, &p.EntryPrice, &p.CostBasis, &price, &confidence, &p.Source, &lastUpdated); err != nil {
		return ledger.Position{}, err
	}
	if confidence.Valid {
		c := confidence.Float64
		p.SignalConfidence = &c
	}
	ts, err := parseTimestamp(lastUpdated)
	if err != nil {
		return ledger.Position{}, fmt.Errorf("position %s: %w", p.Symbol, err)
	}
	p.LastUpdated = ts
	p.Mark(price)
	return p, nil
}

/* ---- History repo ---- */

type sqliteHistoryRepo struct {
	db   *sql.DB
	mode Mode
	log  zerolog.Logger
}

func (r *sqliteHistoryRepo) Append(ctx context.Context, rec ledger.TradeRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (id, mode, symbol, action, quantity, price, value, realized_pl,
			source, signal_confidence, experiment_tag, auto_executed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(r.mode), rec.Symbol, string(rec.Action),
		rec.Quantity, rec.Price, rec.Value, rec.RealizedPL,
		rec.Source, nullFloat(rec.SignalConfidence), rec.ExperimentTag, rec.AutoExecuted,
		rec.Timestamp.Format(tsLayout),
	)
	return err
}

func (r *sqliteHistoryRepo) List(ctx context.Context, filter ListFilter) ([]ledger.TradeRecord, error) {
	query := `SELECT id, symbol, action, quantity, price, value, realized_pl, source,
			signal_confidence, experiment_tag, auto_executed, timestamp
		FROM trades WHERE mode = ?`
	args := []any{string(r.mode)}
	if filter.Symbol != "" {
		query += ` AND symbol = ? COLLATE NOCASE`
		args = append(args, filter.Symbol)
	}
	if filter.Source != "" {
		query += ` AND source = ? COLLATE NOCASE`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	args = append(args, sqlLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.TradeRecord{}
	for rows.Next() {
		var (
			rec        ledger.TradeRecord
			action     string
			confidence sql.NullFloat64
			ts         string
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &action, &rec.Quantity, &rec.Price, &rec.Value,
			&rec.RealizedPL, &rec.Source, &confidence, &rec.ExperimentTag, &rec.AutoExecuted, &ts); err != nil {
			return nil, err
		}
		rec.Action = ledger.Action(action)
		if confidence.Valid {
			c := confidence.Float64
			rec.SignalConfidence = &c
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", rec.ID, err)
		}
		rec.Timestamp = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqliteHistoryRepo) Trim(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM trades WHERE mode = ? AND seq NOT IN (
			SELECT seq FROM trades WHERE mode = ? ORDER BY seq DESC LIMIT ?
		)`, string(r.mode), string(r.mode), keep)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.log.Debug().Str("mode", string(r.mode)).Int64("dropped", n).Msg("Trimmed trade history")
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

/* ---- Signal repo ---- */

type sqliteSignalRepo struct{ db *sql.DB }

func (r *sqliteSignalRepo) Append(ctx context.Context, rec SignalRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, signal_id, trade_id, symbol, action, confidence, strength,
			market_state, mode, quantity, executed_price, experiment, outcome, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SignalID, rec.TradeID, rec.Symbol, string(rec.Action), rec.Confidence,
		string(rec.Strength), rec.MarketState, string(rec.Mode), rec.Quantity, rec.ExecutedPrice,
		rec.Experiment, rec.Outcome, rec.Timestamp.Format(tsLayout),
	)
	return err
}

func (r *sqliteSignalRepo) List(ctx context.Context, filter ListFilter) ([]SignalRecord, error) {
	query := `SELECT id, signal_id, trade_id, symbol, action, confidence, strength, market_state,
			mode, quantity, executed_price, experiment, outcome, timestamp
		FROM signals`
	var args []any
	if filter.Symbol != "" {
		query += ` WHERE symbol = ? COLLATE NOCASE`
		args = append(args, filter.Symbol)
	}
	query += ` ORDER BY seq DESC LIMIT ? OFFSET ?`
	args = append(args, sqlLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SignalRecord{}
	for rows.Next() {
		var (
			rec                    SignalRecord
			action, strength, mode string
			ts                     string
		)
		if err := rows.Scan(&rec.ID, &rec.SignalID, &rec.TradeID, &rec.Symbol, &action, &rec.Confidence,
			&strength, &rec.MarketState, &mode, &rec.Quantity, &rec.ExecutedPrice, &rec.Experiment,
			&rec.Outcome, &ts); err != nil {
			return nil, err
		}
		rec.Action = ledger.Action(action)
		rec.Strength = SignalStrength(strength)
		rec.Mode = Mode(mode)
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", rec.ID, err)
		}
		rec.Timestamp = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

/* ---- Snapshot repo ---- */

type sqliteSnapshotRepo struct{ db *sql.DB }

func (r *sqliteSnapshotRepo) Append(ctx context.Context, s Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, mode, total_value, total_invested, total_pl, buying_power, positions, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Mode), s.TotalValue, s.TotalInvested, s.TotalPL, s.BuyingPower,
		s.Positions, s.TakenAt.Format(tsLayout),
	)
	return err
}

// List takes the newest limit rows and returns them oldest first.
func (r *sqliteSnapshotRepo) List(ctx context.Context, mode Mode, limit int) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, total_value, total_invested, total_pl, buying_power, positions, taken_at
		FROM snapshots WHERE mode = ? ORDER BY seq DESC LIMIT ?`, string(mode), sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		s := Snapshot{Mode: mode}
		var takenAt string
		if err := rows.Scan(&s.ID, &s.TotalValue, &s.TotalInvested, &s.TotalPL, &s.BuyingPower,
			&s.Positions, &takenAt); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(takenAt)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", s.ID, err)
		}
		s.TakenAt = t
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return newestFirst(out), nil
}
