package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// YahooExchanger quotes FX pairs (e.g. USDEUR=X) from the same chart API
// the price provider uses. Rates are cached like quotes.
type YahooExchanger struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

func NewYahooExchanger() *YahooExchanger {
	return &YahooExchanger{
		baseURL: yahooBaseURL,
		http:    &http.Client{Timeout: providerTimeout},
		ttl:     quoteTTL,
		now:     time.Now,
		cache:   make(map[string]cachedQuote),
	}
}

// Rate returns how many 'to' per 1 'from'.
func (y *YahooExchanger) Rate(ctx context.Context, from, to string) (decimal.Decimal, time.Time, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return decimal.Zero, time.Time{}, fmt.Errorf("invalid currency")
	}
	if from == to {
		return decimal.NewFromInt(1), y.now(), nil
	}

	pair := from + to + "=X"
	y.mu.RLock()
	if c, ok := y.cache[pair]; ok && y.now().Sub(c.fetched) < y.ttl {
		y.mu.RUnlock()
		return c.price, c.asOf, nil
	}
	y.mu.RUnlock()

	raw, err := fetchChart(ctx, y.http, y.baseURL, pair)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("fx %s: %w", pair, err)
	}
	f, asOf := raw.lastPrice()
	if f <= 0 {
		return decimal.Zero, time.Time{}, fmt.Errorf("invalid fx rate for %s", pair)
	}
	if asOf.IsZero() {
		asOf = y.now()
	}
	rate := decimal.NewFromFloat(f)

	y.mu.Lock()
	y.cache[pair] = cachedQuote{price: rate, asOf: asOf, fetched: y.now()}
	y.mu.Unlock()
	return rate, asOf, nil
}
