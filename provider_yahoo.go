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

// Yahoo Finance v8 chart provider (cached)

const yahooBaseURL = "https://query2.finance.yahoo.com"

type YahooProvider struct {
	baseURL string
	cli     *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		baseURL: yahooBaseURL,
		cli:     &http.Client{Timeout: providerTimeout},
		ttl:     quoteTTL,
		now:     time.Now,
		cache:   make(map[string]cachedQuote),
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

// fetchChart GETs the v8 chart for a Yahoo ticker (a stock symbol or an FX
// pair such as USDEUR=X).
func fetchChart(ctx context.Context, cli *http.Client, baseURL, ticker string) (yahooChart, error) {
	var raw yahooChart
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d", baseURL, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return raw, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := cli.Do(req)
	if err != nil {
		return raw, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return raw, fmt.Errorf("yahoo http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return raw, err
	}
	if len(raw.Chart.Result) == 0 {
		return raw, ErrYahooNoResult
	}
	return raw, nil
}

// lastPrice picks the meta price, falling back to the last non-zero close.
func (c yahooChart) lastPrice() (float64, time.Time) {
	r := c.Chart.Result[0]
	price := r.Meta.RegularMarketPrice
	asOf := time.Unix(r.Meta.RegularMarketTime, 0)

	if (price <= 0 || r.Meta.RegularMarketTime == 0) && len(r.Timestamp) > 0 && len(r.Indicators.Quote) > 0 && len(r.Indicators.Quote[0].Close) == len(r.Timestamp) {
		for i := len(r.Timestamp) - 1; i >= 0; i-- {
			c := r.Indicators.Quote[0].Close[i]
			if c > 0 {
				price = c
				asOf = time.Unix(r.Timestamp[i], 0)
				break
			}
		}
	}
	if r.Meta.RegularMarketTime == 0 && asOf.Unix() == 0 {
		asOf = time.Time{}
	}
	return price, asOf
}

func (p *YahooProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, time.Time{}, ErrPriceNotFound
	}

	// Cache
	p.mu.RLock()
	if c, ok := p.cache[symbol]; ok && p.now().Sub(c.fetched) < p.ttl {
		p.mu.RUnlock()
		return c.price, c.asOf, nil
	}
	p.mu.RUnlock()

	raw, err := fetchChart(ctx, p.cli, p.baseURL, symbol)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	f, asOf := raw.lastPrice()
	if f <= 0 {
		return decimal.Zero, time.Time{}, ErrPriceNotFound
	}
	if asOf.IsZero() {
		asOf = p.now()
	}
	price := decimal.NewFromFloat(f)

	p.mu.Lock()
	p.cache[symbol] = cachedQuote{price: price, asOf: asOf, fetched: p.now()}
	p.mu.Unlock()

	return price, asOf, nil
}
