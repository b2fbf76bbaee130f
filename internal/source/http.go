// Package source provides price source adapters for the oracle: REST quote
// and index endpoints plus a streaming websocket feed.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// QuoteSource fetches a two-sided quote from a REST endpoint and reports the
// mid of bid and ask. Endpoints that return only a last price are handled by
// IndexSource instead.
type QuoteSource struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.PriceSource = (*QuoteSource)(nil)

// NewQuoteSource creates a QuoteSource. baseURL is the API root; the pair is
// passed as a query parameter.
func NewQuoteSource(name, baseURL, apiKey string, timeout time.Duration) *QuoteSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &QuoteSource{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements domain.PriceSource.
func (s *QuoteSource) Name() string { return s.name }

// Fetch implements domain.PriceSource. It returns ok=false when the venue
// has no book for the pair or the quote is one-sided.
func (s *QuoteSource) Fetch(ctx context.Context, pair domain.Pair) (decimal.Decimal, bool, error) {
	params := url.Values{}
	params.Set("base", pair.Base)
	params.Set("quote", pair.Quote)

	body, status, err := doGet(ctx, s.httpClient, s.baseURL+"/quote?"+params.Encode(), s.apiKey)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("source %s: %w", s.name, err)
	}
	if status == http.StatusNotFound {
		return decimal.Zero, false, nil
	}
	if status == http.StatusTooManyRequests {
		return decimal.Zero, false, fmt.Errorf("source %s: %w", s.name, domain.ErrRateLimited)
	}
	if status != http.StatusOK {
		return decimal.Zero, false, fmt.Errorf("source %s: HTTP %d", s.name, status)
	}

	var resp struct {
		Bid json.Number `json:"bid"`
		Ask json.Number `json:"ask"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, false, fmt.Errorf("source %s: decode quote: %w", s.name, err)
	}

	bid, err := decimal.NewFromString(resp.Bid.String())
	if err != nil {
		return decimal.Zero, false, nil
	}
	ask, err := decimal.NewFromString(resp.Ask.String())
	if err != nil {
		return decimal.Zero, false, nil
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return decimal.Zero, false, nil
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	return mid, true, nil
}

// IndexSource fetches a single reference price from an index or aggregator
// endpoint.
type IndexSource struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.PriceSource = (*IndexSource)(nil)

// NewIndexSource creates an IndexSource.
func NewIndexSource(name, baseURL, apiKey string, timeout time.Duration) *IndexSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IndexSource{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements domain.PriceSource.
func (s *IndexSource) Name() string { return s.name }

// Fetch implements domain.PriceSource.
func (s *IndexSource) Fetch(ctx context.Context, pair domain.Pair) (decimal.Decimal, bool, error) {
	params := url.Values{}
	params.Set("symbol", pair.String())

	body, status, err := doGet(ctx, s.httpClient, s.baseURL+"/price?"+params.Encode(), s.apiKey)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("source %s: %w", s.name, err)
	}
	if status == http.StatusNotFound {
		return decimal.Zero, false, nil
	}
	if status == http.StatusTooManyRequests {
		return decimal.Zero, false, fmt.Errorf("source %s: %w", s.name, domain.ErrRateLimited)
	}
	if status != http.StatusOK {
		return decimal.Zero, false, fmt.Errorf("source %s: HTTP %d", s.name, status)
	}

	var resp struct {
		Price json.Number `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, false, fmt.Errorf("source %s: decode price: %w", s.name, err)
	}

	price, err := decimal.NewFromString(resp.Price.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}

// doGet issues a GET and reads the full body. Non-2xx statuses are returned
// to the caller, not treated as transport errors.
func doGet(ctx context.Context, client *http.Client, fullURL, apiKey string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
