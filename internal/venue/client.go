// Package venue implements the execution venue adapter over the venue's
// REST order API.
package venue

import (
	"bytes"
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

// Client is the REST client for the venue's order API.
type Client struct {
	baseURL    string
	apiKey     string
	pair       domain.Pair
	httpClient *http.Client
}

var _ domain.ExecutionVenue = (*Client)(nil)

// NewClient creates a venue Client trading the given pair.
//
// baseURL is the API root, e.g. "https://api.venue.example/v1".
func NewClient(baseURL, apiKey string, pair domain.Pair, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		pair:    pair,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type orderPayload struct {
	ID        string      `json:"id,omitempty"`
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Price     string      `json:"price,omitempty"`
	BaseUnits int64       `json:"base_units"`
	CreatedAt json.Number `json:"created_at,omitempty"` // unix millis
}

type fillPayload struct {
	OrderID    string      `json:"order_id"`
	Side       string      `json:"side"`
	Price      string      `json:"price"`
	BaseUnits  int64       `json:"base_units"`
	QuoteUnits int64       `json:"quote_units"`
	FilledAt   json.Number `json:"filled_at"` // unix millis
}

// ListOpenOrders implements domain.ExecutionVenue.
func (c *Client) ListOpenOrders(ctx context.Context, account string) ([]domain.OpenOrder, error) {
	path := fmt.Sprintf("/accounts/%s/orders?symbol=%s",
		url.PathEscape(account), url.QueryEscape(c.pair.String()))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("venue: list open orders: %w", err)
	}

	var resp struct {
		Orders []orderPayload `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue: decode orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, fmt.Errorf("venue: order %s price %q: %w", o.ID, o.Price, err)
		}
		orders = append(orders, domain.OpenOrder{
			ID:        o.ID,
			Side:      domain.OrderSide(o.Side),
			Price:     price,
			BaseUnits: o.BaseUnits,
			CreatedAt: millisToTime(o.CreatedAt),
		})
	}
	return orders, nil
}

// PlaceOrder implements domain.ExecutionVenue.
func (c *Client) PlaceOrder(ctx context.Context, account string, side domain.OrderSide, price decimal.Decimal, baseUnits int64) (domain.OpenOrder, error) {
	payload := orderPayload{
		Symbol:    c.pair.String(),
		Side:      string(side),
		Price:     price.String(),
		BaseUnits: baseUnits,
	}

	path := fmt.Sprintf("/accounts/%s/orders", url.PathEscape(account))
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return domain.OpenOrder{}, fmt.Errorf("venue: place order: %w", err)
	}

	var resp struct {
		Order orderPayload `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OpenOrder{}, fmt.Errorf("venue: decode place response: %w", err)
	}
	if resp.Order.ID == "" {
		return domain.OpenOrder{}, fmt.Errorf("venue: place response missing order id")
	}

	placed, err := decimal.NewFromString(resp.Order.Price)
	if err != nil {
		placed = price
	}
	return domain.OpenOrder{
		ID:        resp.Order.ID,
		Side:      side,
		Price:     placed,
		BaseUnits: resp.Order.BaseUnits,
		CreatedAt: millisToTime(resp.Order.CreatedAt),
	}, nil
}

// CancelOrder implements domain.ExecutionVenue. Cancelling an order the
// venue no longer knows maps to domain.ErrNotFound.
func (c *Client) CancelOrder(ctx context.Context, account, orderID string) error {
	path := fmt.Sprintf("/accounts/%s/orders/%s",
		url.PathEscape(account), url.PathEscape(orderID))

	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("venue: cancel order %s: %w", orderID, err)
	}
	return nil
}

// SubmitMarketOrder implements domain.ExecutionVenue. The venue executes
// synchronously and returns the resulting fill.
func (c *Client) SubmitMarketOrder(ctx context.Context, account string, side domain.OrderSide, baseUnits int64, maxSlippageBps float64) (domain.Fill, error) {
	payload := struct {
		Symbol         string  `json:"symbol"`
		Side           string  `json:"side"`
		BaseUnits      int64   `json:"base_units"`
		MaxSlippageBps float64 `json:"max_slippage_bps"`
	}{
		Symbol:         c.pair.String(),
		Side:           string(side),
		BaseUnits:      baseUnits,
		MaxSlippageBps: maxSlippageBps,
	}

	path := fmt.Sprintf("/accounts/%s/market-orders", url.PathEscape(account))
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("venue: market order: %w", err)
	}

	var resp struct {
		Fill fillPayload `json:"fill"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Fill{}, fmt.Errorf("venue: decode fill: %w", err)
	}

	price, err := decimal.NewFromString(resp.Fill.Price)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("venue: fill price %q: %w", resp.Fill.Price, err)
	}
	return domain.Fill{
		OrderID:    resp.Fill.OrderID,
		Side:       domain.OrderSide(resp.Fill.Side),
		Price:      price,
		BaseUnits:  resp.Fill.BaseUnits,
		QuoteUnits: resp.Fill.QuoteUnits,
		FilledAt:   millisToTime(resp.Fill.FilledAt),
	}, nil
}

// do builds, sends, and reads an HTTP request against the venue API.
func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

func millisToTime(n json.Number) time.Time {
	ms, err := n.Int64()
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
