package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSignalSource reads signals from GET {baseURL}/signals. The body may be
// a bare array or an object with a "signals" array.
type HTTPSignalSource struct {
	baseURL string
	cli     *http.Client
}

func NewHTTPSignalSource(baseURL string) *HTTPSignalSource {
	return &HTTPSignalSource{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		cli:     &http.Client{Timeout: providerTimeout},
	}
}

func (s *HTTPSignalSource) Signals(ctx context.Context) ([]Signal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/signals", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signal source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal source http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, err
	}

	var out []Signal
	switch firstNonWS(body) {
	case '[':
		err = json.Unmarshal(body, &out)
	case '{':
		var wrapped struct {
			Signals []Signal `json:"signals"`
		}
		err = json.Unmarshal(body, &wrapped)
		out = wrapped.Signals
	default:
		return nil, fmt.Errorf("signal source: unexpected payload")
	}
	if err != nil {
		return nil, fmt.Errorf("signal source: %w", err)
	}

	now := time.Now()
	for i := range out {
		out[i].Symbol = strings.ToUpper(strings.TrimSpace(out[i].Symbol))
		out[i].Action = strings.ToUpper(strings.TrimSpace(out[i].Action))
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now
		}
	}
	return out, nil
}
