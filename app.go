package main

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg       *Config
	log       zerolog.Logger
	backend   Backend
	prices    PriceOracle
	exchanger CurrencyExchanger
	trading   *TradingService
	signals   *SignalService
}

func newApp(cfg *Config, log zerolog.Logger, notifier TradeNotifier) (*app, error) {
	backend, err := openBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	trading := NewTradingService(backend, TradingConfig{
		StartingBalance:    cfg.StartingBalances(),
		EnforceBuyingPower: cfg.EnforceBuyingPower,
		HistoryLimit:       cfg.HistoryLimit,
		Notifier:           notifier,
	}, log)

	prices := newPriceOracle(cfg, log)
	var source SignalSource
	if cfg.SignalSourceURL != "" {
		source = NewHTTPSignalSource(cfg.SignalSourceURL)
	}

	return &app{
		cfg:       cfg,
		log:       log,
		backend:   backend,
		prices:    prices,
		exchanger: NewYahooExchanger(),
		trading:   trading,
		signals:   NewSignalService(source, prices, trading, backend.Signals(), cfg.AutoExecuteStrong, log),
	}, nil
}

func (a *app) Close() error { return a.backend.Close() }

func openBackend(cfg *Config, log zerolog.Logger) (Backend, error) {
	switch cfg.RepoKind {
	case "memory":
		return newMemoryStore(), nil
	case "sqlite":
		db, err := openSQLite(filepath.Join(cfg.DataDir, "sygnl.db"))
		if err != nil {
			return nil, err
		}
		b, err := NewSQLiteBackend(db, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		return b, nil
	case "csv", "":
		store, err := NewCSVStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("init csv store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown repo kind %q", cfg.RepoKind)
}

// newPriceOracle falls back to Yahoo when Alpha Vantage has no key.
func newPriceOracle(cfg *Config, log zerolog.Logger) PriceOracle {
	switch cfg.PriceProvider {
	case "none":
		return nil
	case "alphavantage":
		ap, err := NewAlphaVantageProvider(cfg.AlphaVantageAPIKey)
		if err == nil {
			return ap
		}
		log.Warn().Err(err).Msg("Alpha Vantage not configured, falling back to Yahoo")
	}
	return NewYahooProvider()
}
