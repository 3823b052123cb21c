package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is assembled from defaults, an optional YAML file (SYGNL_CONFIG)
// and the environment, in that order.
type Config struct {
	Port     int    `yaml:"port"`
	DataDir  string `yaml:"data_dir"`
	RepoKind string `yaml:"repo_kind"`
	LogLevel string `yaml:"log_level"`
	DevMode  bool   `yaml:"dev_mode"`

	PaperStartingBalance float64 `yaml:"paper_starting_balance"`
	LiveStartingBalance  float64 `yaml:"live_starting_balance"`
	EnforceBuyingPower   bool    `yaml:"enforce_buying_power"`
	HistoryLimit         int     `yaml:"history_limit"`

	PriceProvider      string `yaml:"price_provider"`
	AlphaVantageAPIKey string `yaml:"alphavantage_api_key"`
	SignalSourceURL    string `yaml:"signal_source_url"`
	AutoExecuteStrong  bool   `yaml:"auto_execute_strong"`
	SnapshotSchedule   string `yaml:"snapshot_schedule"`
}

func defaultConfig() Config {
	return Config{
		Port:                 8080,
		DataDir:              "./data",
		RepoKind:             "csv",
		LogLevel:             "info",
		PaperStartingBalance: 6000,
		LiveStartingBalance:  6000,
		EnforceBuyingPower:   true,
		HistoryLimit:         100,
		PriceProvider:        "yahoo",
		AutoExecuteStrong:    true,
		SnapshotSchedule:     "@every 15m",
	}
}

// LoadConfig reads .env (if present), then SYGNL_CONFIG, then the
// environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path := os.Getenv("SYGNL_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.RepoKind = strings.ToLower(strings.TrimSpace(getEnv("REPO_KIND", cfg.RepoKind)))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DevMode = getEnvAsBool("DEV_MODE", cfg.DevMode)
	cfg.PaperStartingBalance = getEnvAsFloat("PAPER_STARTING_BALANCE", cfg.PaperStartingBalance)
	cfg.LiveStartingBalance = getEnvAsFloat("LIVE_STARTING_BALANCE", cfg.LiveStartingBalance)
	cfg.EnforceBuyingPower = getEnvAsBool("ENFORCE_BUYING_POWER", cfg.EnforceBuyingPower)
	cfg.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.PriceProvider = strings.ToLower(strings.TrimSpace(getEnv("PRICE_PROVIDER", cfg.PriceProvider)))
	cfg.AlphaVantageAPIKey = getEnv("ALPHAVANTAGE_API_KEY", cfg.AlphaVantageAPIKey)
	cfg.SignalSourceURL = getEnv("SIGNAL_SOURCE_URL", cfg.SignalSourceURL)
	cfg.AutoExecuteStrong = getEnvAsBool("AUTO_EXECUTE_STRONG", cfg.AutoExecuteStrong)
	if v, ok := os.LookupEnv("SNAPSHOT_SCHEDULE"); ok {
		cfg.SnapshotSchedule = strings.TrimSpace(v) // empty disables
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	switch c.RepoKind {
	case "csv", "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown repo kind %q (use csv|memory|sqlite)", c.RepoKind))
	}
	if c.PaperStartingBalance <= 0 {
		errs = append(errs, errors.New("paper starting balance must be > 0"))
	}
	if c.LiveStartingBalance <= 0 {
		errs = append(errs, errors.New("live starting balance must be > 0"))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("history limit must be >= 0"))
	}
	switch c.PriceProvider {
	case "yahoo", "alphavantage", "none":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProvider, c.PriceProvider))
	}
	return errors.Join(errs...)
}

func (c *Config) StartingBalances() map[Mode]decimal.Decimal {
	return map[Mode]decimal.Decimal{
		ModePaper: decimal.NewFromFloat(c.PaperStartingBalance),
		ModeLive:  decimal.NewFromFloat(c.LiveStartingBalance),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
