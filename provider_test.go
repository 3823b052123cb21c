package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartBody = `{"chart":{"result":[{"meta":{"regularMarketPrice":%s,"regularMarketTime":1740830400},
"timestamp":[1740830340,1740830400],"indicators":{"quote":[{"close":[%s,0]}]}}],"error":null}}`

func chartServer(t *testing.T, calls *int32, meta, lastClose string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path == "/v8/finance/chart/MISSING" {
			fmt.Fprint(w, `{"chart":{"result":[],"error":{"code":"Not Found"}}}`)
			return
		}
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		fmt.Fprintf(w, chartBody, meta, lastClose)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestYahooProvider_GetPrice(t *testing.T) {
	var calls int32
	srv := chartServer(t, &calls, "281.5", "281.25")
	p := NewYahooProvider()
	p.baseURL = srv.URL

	price, asOf, err := p.GetPrice(context.Background(), " aapl ")
	require.NoError(t, err)
	assertDec(t, "281.5", price)
	assert.Equal(t, int64(1740830400), asOf.Unix())

	_, _, err = p.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second lookup is served from cache")

	_, _, err = p.GetPrice(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrYahooNoResult)

	_, _, err = p.GetPrice(context.Background(), "")
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestYahooProvider_FallsBackToLastClose(t *testing.T) {
	var calls int32
	srv := chartServer(t, &calls, "0", "279.9")
	p := NewYahooProvider()
	p.baseURL = srv.URL

	price, asOf, err := p.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assertDec(t, "279.9", price)
	assert.Equal(t, int64(1740830340), asOf.Unix())
}

func TestYahooExchanger_Rate(t *testing.T) {
	var calls int32
	srv := chartServer(t, &calls, "0.92", "0.92")
	ex := NewYahooExchanger()
	ex.baseURL = srv.URL

	rate, _, err := ex.Rate(context.Background(), "usd", "eur")
	require.NoError(t, err)
	assertDec(t, "0.92", rate)

	rate, _, err = ex.Rate(context.Background(), "USD", "USD")
	require.NoError(t, err)
	assertDec(t, "1", rate)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "identity rate needs no lookup")

	_, _, err = ex.Rate(context.Background(), "", "EUR")
	assert.Error(t, err)
}

func TestAlphaVantageProvider(t *testing.T) {
	_, err := NewAlphaVantageProvider("  ")
	assert.ErrorIs(t, err, ErrAPIKeyMissing)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "GLOBAL_QUOTE", q.Get("function"))
		assert.Equal(t, "demo", q.Get("apikey"))
		switch q.Get("symbol") {
		case "AAPL":
			fmt.Fprint(w, `{"Global Quote":{"01. symbol":"AAPL","05. price":"280.1200","07. latest trading day":"2025-03-01"}}`)
		case "BUSY":
			fmt.Fprint(w, `{"Note":"Thank you for using Alpha Vantage!"}`)
		default:
			fmt.Fprint(w, `{"Global Quote":{}}`)
		}
	}))
	t.Cleanup(srv.Close)

	p, err := NewAlphaVantageProvider("demo")
	require.NoError(t, err)
	p.baseURL = srv.URL

	price, asOf, err := p.GetPrice(context.Background(), "aapl")
	require.NoError(t, err)
	assertDec(t, "280.12", price)
	assert.Equal(t, "2025-03-01", asOf.Format("2006-01-02"))

	_, _, err = p.GetPrice(context.Background(), "BUSY")
	assert.ErrorIs(t, err, ErrAPIRateLimited)

	_, _, err = p.GetPrice(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestHTTPSignalSource(t *testing.T) {
	bodies := map[string]string{
		"/bare/signals":    `[{"id":"1","symbol":" nvda ","action":"buy","confidence":88.5}]`,
		"/wrapped/signals": `{"signals":[{"id":"2","symbol":"TSLA","confidence":52,"timestamp":"2025-03-01T12:00:00Z"}]}`,
		"/broken/signals":  `"nope"`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	sigs, err := NewHTTPSignalSource(srv.URL + "/bare/").Signals(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "NVDA", sigs[0].Symbol)
	assert.Equal(t, "BUY", sigs[0].Action)
	assert.InDelta(t, 88.5, sigs[0].Confidence, 1e-9)
	assert.False(t, sigs[0].Timestamp.IsZero())

	sigs, err = NewHTTPSignalSource(srv.URL + "/wrapped").Signals(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Empty(t, sigs[0].Action)
	assert.Equal(t, 2025, sigs[0].Timestamp.Year())

	_, err = NewHTTPSignalSource(srv.URL + "/broken").Signals(ctx)
	assert.Error(t, err)

	_, err = NewHTTPSignalSource(srv.URL + "/down").Signals(ctx)
	assert.ErrorContains(t, err, "503")
}
