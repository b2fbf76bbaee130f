package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/breaker"
	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/inventory"
	"github.com/quantfold/dexmaker/internal/lifecycle"
	"github.com/quantfold/dexmaker/internal/oracle"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *breaker.Breaker, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	brk := breaker.New(breaker.Config{
		PriceDeviationPct: 10,
		VolatilityPct:     150,
		LossPct:           5,
		FailuresThreshold: 5,
		CooldownPeriod:    time.Hour,
	}, nil, logger)
	orc := oracle.New(nil, oracle.Config{MinSources: 1}, nil, logger)

	ledger := inventory.NewLedger(logger)
	ledger.Restore(domain.Inventory{
		Account:      "acct",
		BaseUnits:    1000,
		QuoteUnits:   10_000,
		AvgCostBasis: decimal.NewFromInt(10),
	})

	runner := lifecycle.NewRunner("acct", lifecycle.Config{
		Pair: domain.Pair{Base: "TOKEN", Quote: "USDC"},
	}, orc, brk, nil, ledger, nil, nil, nil, nil, logger)

	s := New(Config{Port: 0, APIKey: apiKey}, brk, orc, nil, ledger, []*lifecycle.Runner{runner}, logger)
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return s, brk, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t, "")

	var body map[string]string
	status := getJSON(t, ts.URL+"/api/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestBreakerEndpoint(t *testing.T) {
	_, brk, ts := newTestServer(t, "")

	var view breakerView
	status := getJSON(t, ts.URL+"/api/v1/breaker", &view)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(domain.BreakerClosed), view.State)

	brk.TripManual(t.Context(), "test")
	status = getJSON(t, ts.URL+"/api/v1/breaker", &view)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(domain.BreakerOpen), view.State)
	assert.Equal(t, string(domain.TripManual), view.TripReason)
}

func TestAccountsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, "")

	var accounts []accountView
	status := getJSON(t, ts.URL+"/api/v1/accounts", &accounts)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acct", accounts[0].Account)
	assert.Equal(t, int64(1000), accounts[0].BaseUnits)
	assert.Equal(t, "10", accounts[0].AvgCostBasis)
}

func TestTrip_DisabledWithoutKey(t *testing.T) {
	_, _, ts := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/api/v1/breaker/trip", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTrip_RequiresBearerToken(t *testing.T) {
	_, brk, ts := newTestServer(t, "secret")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/breaker/trip", strings.NewReader(`{"reason":"ops drill"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, brk.Allowed())

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/v1/breaker/trip", strings.NewReader(`{"reason":"ops drill"}`))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, brk.Allowed())
}

func TestReset_ConflictDuringCooldown(t *testing.T) {
	_, brk, ts := newTestServer(t, "secret")
	brk.TripManual(t.Context(), "test")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/breaker/reset", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, brk.Allowed())
}
