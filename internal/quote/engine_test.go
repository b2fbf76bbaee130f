package quote

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/domain"
)

func testConfig() Config {
	return Config{
		BaseSpreadPct:   0.01,
		MinSpreadPct:    0.002,
		MaxSpreadPct:    0.05,
		VolatilityCoeff: 0.5,
		TargetRatio:     0.5,
		SkewTolerance:   0.1,
		SkewMultiplier:  1.5,
	}
}

func TestCompute_SymmetricAtTargetRatio(t *testing.T) {
	e := NewEngine(testConfig())
	q, err := e.Compute(decimal.NewFromInt(100), 0.5, 0)
	require.NoError(t, err)

	bid, _ := q.BidPrice.Float64()
	ask, _ := q.AskPrice.Float64()
	assert.InDelta(t, 99.5, bid, 1e-9)
	assert.InDelta(t, 100.5, ask, 1e-9)
	assert.InDelta(t, 0.01, q.TotalSpread(), 1e-12)
}

func TestCompute_ExcessBaseWidensAsk(t *testing.T) {
	e := NewEngine(testConfig())
	q, err := e.Compute(decimal.NewFromInt(100), 0.8, 0)
	require.NoError(t, err)

	// m=1.5: ask gets total*1.5/2.5, bid gets total/2.5.
	assert.InDelta(t, 0.006, q.AskSpread, 1e-12)
	assert.InDelta(t, 0.004, q.BidSpread, 1e-12)
	assert.InDelta(t, 0.01, q.TotalSpread(), 1e-12)
	assert.True(t, q.BidPrice.LessThan(q.AskPrice))
}

func TestCompute_ExcessQuoteWidensBid(t *testing.T) {
	e := NewEngine(testConfig())
	q, err := e.Compute(decimal.NewFromInt(100), 0.1, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0.006, q.BidSpread, 1e-12)
	assert.InDelta(t, 0.004, q.AskSpread, 1e-12)
}

func TestCompute_VolatilityWidensSpread(t *testing.T) {
	e := NewEngine(testConfig())

	calm, err := e.Compute(decimal.NewFromInt(100), 0.5, 0)
	require.NoError(t, err)
	stormy, err := e.Compute(decimal.NewFromInt(100), 0.5, 1.0)
	require.NoError(t, err)

	// total = 0.01 * (1 + 0.5*1.0) = 0.015
	assert.InDelta(t, 0.015, stormy.TotalSpread(), 1e-12)
	assert.Greater(t, stormy.TotalSpread(), calm.TotalSpread())
}

func TestCompute_ClampedToMaxSpread(t *testing.T) {
	e := NewEngine(testConfig())
	q, err := e.Compute(decimal.NewFromInt(100), 0.5, 50)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, q.TotalSpread(), 1e-12)
}

func TestCompute_ProfitFloorRaisesSpread(t *testing.T) {
	cfg := testConfig()
	cfg.BaseSpreadPct = 0.0005
	cfg.MinSpreadPct = 0
	cfg.MinProfitBps = 10
	cfg.RoundTripFeeBps = 10
	e := NewEngine(cfg)

	q, err := e.Compute(decimal.NewFromInt(100), 0.5, 0)
	require.NoError(t, err)
	// Floor: (10+10)/10000 = 0.002.
	assert.InDelta(t, 0.002, q.TotalSpread(), 1e-12)
}

func TestCompute_NegativeVolatilityTreatedAsZero(t *testing.T) {
	e := NewEngine(testConfig())
	q, err := e.Compute(decimal.NewFromInt(100), 0.5, -3)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, q.TotalSpread(), 1e-12)
}

func TestCompute_RejectsNonPositiveMid(t *testing.T) {
	e := NewEngine(testConfig())

	_, err := e.Compute(decimal.Zero, 0.5, 0)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	_, err = e.Compute(decimal.NewFromInt(-5), 0.5, 0)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}
