package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/domain"
)

type fakeSource struct {
	name  string
	price decimal.Decimal
	ok    bool
	err   error
	calls atomic.Int64
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, pair domain.Pair) (decimal.Decimal, bool, error) {
	f.calls.Add(1)
	return f.price, f.ok, f.err
}

func good(name string, price float64) *fakeSource {
	return &fakeSource{name: name, price: decimal.NewFromFloat(price), ok: true}
}

func testOracle(sources []domain.PriceSource, cfg Config) *Oracle {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = time.Second
	}
	return New(sources, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var pair = domain.Pair{Base: "TOKEN", Quote: "USDC"}

func TestGetPrice_MedianRejectsOutlier(t *testing.T) {
	o := testOracle([]domain.PriceSource{
		good("a", 1.00), good("b", 1.01), good("c", 0.99), good("d", 5.00),
	}, Config{MinSources: 2, MaxDeviationPct: 10, DampeningTriggerPct: 1000})

	agg, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	mid, _ := agg.MidPrice.Float64()
	assert.InDelta(t, 1.00, mid, 1e-9)
	assert.Len(t, agg.Samples, 3)
	assert.False(t, agg.Fallback)
}

func TestGetPrice_NoPriorPriceFails(t *testing.T) {
	broken := &fakeSource{name: "down", err: errors.New("boom")}
	o := testOracle([]domain.PriceSource{broken}, Config{MinSources: 1})

	_, err := o.GetPrice(context.Background(), pair, true)
	assert.ErrorIs(t, err, domain.ErrInsufficientSources)
}

func TestGetPrice_FallsBackToLastPrice(t *testing.T) {
	src := good("a", 2.5)
	o := testOracle([]domain.PriceSource{src}, Config{MinSources: 1, MaxDeviationPct: 10, DampeningTriggerPct: 1000})

	first, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	src.ok = false
	second, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	assert.True(t, second.Fallback)
	assert.True(t, second.MidPrice.Equal(first.MidPrice))
	assert.LessOrEqual(t, second.Confidence, 0.5)
}

func TestGetPrice_DampensLargeJump(t *testing.T) {
	src := good("a", 100)
	o := testOracle([]domain.PriceSource{src}, Config{MinSources: 1, MaxDeviationPct: 50, DampeningTriggerPct: 5})

	_, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	src.price = decimal.NewFromInt(120)
	agg, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	// 20% move > 5% trigger: only 20% of the jump passes, 100 + 0.2*20 = 104.
	mid, _ := agg.MidPrice.Float64()
	assert.InDelta(t, 104, mid, 1e-9)

	// The undampened median stays visible for the breaker.
	raw, _ := agg.RawMid.Float64()
	assert.InDelta(t, 120, raw, 1e-9)
}

func TestGetPrice_SmallMoveNotDampened(t *testing.T) {
	src := good("a", 100)
	o := testOracle([]domain.PriceSource{src}, Config{MinSources: 1, MaxDeviationPct: 50, DampeningTriggerPct: 5})

	_, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	src.price = decimal.NewFromInt(102)
	agg, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)

	mid, _ := agg.MidPrice.Float64()
	assert.InDelta(t, 102, mid, 1e-9)
}

func TestGetPrice_CacheHitSkipsSources(t *testing.T) {
	src := good("a", 3)
	o := testOracle([]domain.PriceSource{src}, Config{MinSources: 1, CacheTTL: time.Minute, DampeningTriggerPct: 1000})

	_, err := o.GetPrice(context.Background(), pair, false)
	require.NoError(t, err)
	_, err = o.GetPrice(context.Background(), pair, false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), src.calls.Load())

	o.Invalidate()
	_, err = o.GetPrice(context.Background(), pair, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestGetPrice_SourceConfidenceAveraged(t *testing.T) {
	o := testOracle([]domain.PriceSource{good("a", 1), good("b", 1)}, Config{
		MinSources:          2,
		MaxDeviationPct:     10,
		DampeningTriggerPct: 1000,
		SourceConfidence:    map[string]float64{"a": 0.8, "b": 0.6},
	})

	agg, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, agg.Confidence, 1e-9)
}

func TestGetPrice_IgnoresNonPositivePrices(t *testing.T) {
	bad := &fakeSource{name: "zero", price: decimal.Zero, ok: true}
	o := testOracle([]domain.PriceSource{bad, good("a", 4)}, Config{MinSources: 1, MaxDeviationPct: 10, DampeningTriggerPct: 1000})

	agg, err := o.GetPrice(context.Background(), pair, true)
	require.NoError(t, err)
	assert.Len(t, agg.Samples, 1)

	mid, _ := agg.MidPrice.Float64()
	assert.InDelta(t, 4, mid, 1e-9)
}
