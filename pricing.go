package main

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PriceOracle returns the latest price for a symbol (in the quote's own currency).
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (price decimal.Decimal, asOf time.Time, err error)
}

// SignalSource fetches the current signal list from the upstream signal
// service. The service is opaque; nothing here generates signals.
type SignalSource interface {
	Signals(ctx context.Context) ([]Signal, error)
}

// CurrencyExchanger converts money from one currency into another.
type CurrencyExchanger interface {
	// Rate returns how many 'to' units per 1 'from' unit. (amount_in_to = amount_in_from * rate)
	Rate(ctx context.Context, from, to string) (rate decimal.Decimal, asOf time.Time, err error)
}

var (
	ErrPriceNotFound   = errors.New("price not found")
	ErrNoPriceOracle   = errors.New("no price provider configured")
	ErrNoSignalSource  = errors.New("no signal source configured")
	ErrNoExchanger     = errors.New("no currency exchanger configured")
	ErrAPIKeyMissing   = errors.New("ALPHAVANTAGE_API_KEY not set")
	ErrAPIRateLimited  = errors.New("alpha vantage rate limit or information note")
	ErrYahooNoResult   = errors.New("yahoo: no result")
	ErrUnknownProvider = errors.New("unknown price provider")
)

type cachedQuote struct {
	price   decimal.Decimal
	asOf    time.Time
	fetched time.Time
}

const (
	providerTimeout = 8 * time.Second
	quoteTTL        = 60 * time.Second
	userAgent       = "sygnl/1.0"
)
