package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Alpha Vantage GLOBAL_QUOTE provider (simple, cached)

const alphaVantageBaseURL = "https://www.alphavantage.co"

type AlphaVantageProvider struct {
	apiKey  string
	baseURL string
	cli     *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

func NewAlphaVantageProvider(apiKey string) (*AlphaVantageProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, ErrAPIKeyMissing
	}
	return &AlphaVantageProvider{
		apiKey:  key,
		baseURL: alphaVantageBaseURL,
		cli:     &http.Client{Timeout: providerTimeout},
		ttl:     quoteTTL,
		now:     time.Now,
		cache:   make(map[string]cachedQuote),
	}, nil
}

func (p *AlphaVantageProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, time.Time{}, ErrPriceNotFound
	}

	// cache hit?
	p.mu.RLock()
	if c, ok := p.cache[symbol]; ok && p.now().Sub(c.fetched) < p.ttl {
		p.mu.RUnlock()
		return c.price, c.asOf, nil
	}
	p.mu.RUnlock()

	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.cli.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, time.Time{}, fmt.Errorf("alphavantage http %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if _, ok := raw["Note"]; ok {
		return decimal.Zero, time.Time{}, ErrAPIRateLimited
	}
	if _, ok := raw["Information"]; ok {
		return decimal.Zero, time.Time{}, ErrAPIRateLimited
	}
	gq, ok := raw["Global Quote"].(map[string]any)
	if !ok || len(gq) == 0 {
		return decimal.Zero, time.Time{}, ErrPriceNotFound
	}

	priceStr, _ := gq["05. price"].(string)
	asOfStr, _ := gq["07. latest trading day"].(string)

	price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
	if err != nil || !price.IsPositive() {
		return decimal.Zero, time.Time{}, ErrPriceNotFound
	}

	asOf := p.now()
	if asOfStr != "" {
		if t, e := time.Parse("2006-01-02", asOfStr); e == nil {
			asOf = t
		}
	}

	p.mu.Lock()
	p.cache[symbol] = cachedQuote{price: price, asOf: asOf, fetched: p.now()}
	p.mu.Unlock()

	return price, asOf, nil
}
