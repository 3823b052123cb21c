package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		mode              TEXT NOT NULL,
		symbol            TEXT NOT NULL,
		quantity          TEXT NOT NULL,
		entry_price       TEXT NOT NULL,
		cost_basis        TEXT NOT NULL,
		current_price     TEXT NOT NULL,
		signal_confidence REAL,
		source            TEXT NOT NULL DEFAULT '',
		last_updated      TEXT NOT NULL,
		PRIMARY KEY (mode, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		mode              TEXT NOT NULL,
		symbol            TEXT NOT NULL,
		action            TEXT NOT NULL,
		quantity          TEXT NOT NULL,
		price             TEXT NOT NULL,
		value             TEXT NOT NULL,
		realized_pl       TEXT NOT NULL,
		source            TEXT NOT NULL DEFAULT '',
		signal_confidence REAL,
		experiment_tag    TEXT NOT NULL DEFAULT '',
		auto_executed     INTEGER NOT NULL DEFAULT 0,
		timestamp         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_mode_seq ON trades (mode, seq)`,
	`CREATE TABLE IF NOT EXISTS signals (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		id             TEXT NOT NULL UNIQUE,
		signal_id      TEXT NOT NULL DEFAULT '',
		trade_id       TEXT NOT NULL DEFAULT '',
		symbol         TEXT NOT NULL,
		action         TEXT NOT NULL,
		confidence     REAL NOT NULL,
		strength       TEXT NOT NULL,
		market_state   TEXT NOT NULL DEFAULT '',
		mode           TEXT NOT NULL,
		quantity       TEXT NOT NULL,
		executed_price TEXT NOT NULL,
		experiment     INTEGER NOT NULL DEFAULT 0,
		outcome        TEXT NOT NULL,
		timestamp      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		id             TEXT NOT NULL UNIQUE,
		mode           TEXT NOT NULL,
		total_value    TEXT NOT NULL,
		total_invested TEXT NOT NULL,
		total_pl       TEXT NOT NULL,
		buying_power   TEXT NOT NULL,
		positions      INTEGER NOT NULL,
		taken_at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_mode_seq ON snapshots (mode, seq)`,
}

// openSQLite opens (creating if needed) the database file in WAL mode.
func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// migrate creates any missing tables. Safe to run on every start.
func migrate(db *sql.DB) error {
	return WithTransaction(db, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}
