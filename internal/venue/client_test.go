package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/domain"
)

var testPair = domain.Pair{Base: "TOKEN", Quote: "USDC"}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "test-key", testPair, time.Second), srv
}

func TestListOpenOrders(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts/acct/orders", r.URL.Path)
		assert.Equal(t, testPair.String(), r.URL.Query().Get("symbol"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orders":[
			{"id":"o-1","symbol":"TOKEN/USDC","side":"buy","price":"9.95","base_units":100,"created_at":1700000000000},
			{"id":"o-2","symbol":"TOKEN/USDC","side":"sell","price":"10.05","base_units":100,"created_at":1700000001000}
		]}`))
	})
	defer srv.Close()

	orders, err := c.ListOpenOrders(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "o-1", orders[0].ID)
	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.True(t, orders[0].Price.Equal(decimal.RequireFromString("9.95")))
	assert.Equal(t, int64(100), orders[0].BaseUnits)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), orders[0].CreatedAt)
}

func TestPlaceOrder(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct/orders", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "TOKEN/USDC", req["symbol"])
		assert.Equal(t, "buy", req["side"])
		assert.Equal(t, "9.95", req["price"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order":{"id":"o-9","side":"buy","price":"9.95","base_units":100,"created_at":1700000000000}}`))
	})
	defer srv.Close()

	o, err := c.PlaceOrder(context.Background(), "acct", domain.OrderSideBuy, decimal.RequireFromString("9.95"), 100)
	require.NoError(t, err)
	assert.Equal(t, "o-9", o.ID)
	assert.Equal(t, int64(100), o.BaseUnits)
}

func TestPlaceOrder_MissingIDFails(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order":{}}`))
	})
	defer srv.Close()

	_, err := c.PlaceOrder(context.Background(), "acct", domain.OrderSideBuy, decimal.NewFromInt(10), 100)
	assert.Error(t, err)
}

func TestCancelOrder_NotFound(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/accounts/acct/orders/o-1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"order_not_found","message":"unknown order"}`))
	})
	defer srv.Close()

	err := c.CancelOrder(context.Background(), "acct", "o-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmitMarketOrder(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/market-orders", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sell", req["side"])
		assert.Equal(t, float64(250), req["base_units"])
		assert.Equal(t, float64(50), req["max_slippage_bps"])

		_, _ = w.Write([]byte(`{"fill":{"order_id":"mkt-1","side":"sell","price":"9.98","base_units":250,"quote_units":2495,"filled_at":1700000002000}}`))
	})
	defer srv.Close()

	fill, err := c.SubmitMarketOrder(context.Background(), "acct", domain.OrderSideSell, 250, 50)
	require.NoError(t, err)
	assert.Equal(t, "mkt-1", fill.OrderID)
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("9.98")))
	assert.Equal(t, int64(250), fill.BaseUnits)
	assert.Equal(t, int64(2495), fill.QuoteUnits)
}

func TestRateLimitMapped(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"rate_limited","message":"slow down"}`))
	})
	defer srv.Close()

	_, err := c.ListOpenOrders(context.Background(), "acct")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
