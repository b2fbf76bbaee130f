package rugpull

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantfold/dexmaker/internal/domain"
)

type fakeChain struct {
	supply  decimal.Decimal
	pools   []domain.LiquidityPool
	holders []domain.HolderShare
	err     error
}

func (f *fakeChain) GetSupply(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.supply, f.err
}

func (f *fakeChain) GetLiquidityPools(ctx context.Context, asset string) ([]domain.LiquidityPool, error) {
	return f.pools, f.err
}

func (f *fakeChain) GetTopHolders(ctx context.Context, asset string, limit int) ([]domain.HolderShare, error) {
	return f.holders, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snap(supply, liquidity float64, topHolderPct float64) domain.ChainSnapshot {
	return domain.ChainSnapshot{
		Asset:        "TOKEN",
		TotalSupply:  decimal.NewFromFloat(supply),
		LiquidityUSD: decimal.NewFromFloat(liquidity),
		TopHolderPct: topHolderPct,
	}
}

func TestScore_LiquidityDrainPlusConcentration(t *testing.T) {
	s := NewScorer(&fakeChain{}, true, 10, testLogger())

	// 25% LP drop: 25*2 = 50, capped at the 40-point weight.
	// Top holder 60%: 60*0.5 = 30.
	got := s.Score(snap(1000, 1000, 0), snap(1000, 750, 60))

	assert.InDelta(t, 70, got.Score, 1e-9)
	assert.Equal(t, domain.RiskHigh, got.Level)
	assert.True(t, got.ShouldExit)
	assert.Len(t, got.Reasons, 2)
}

func TestScore_SupplyChangeBothDirections(t *testing.T) {
	s := NewScorer(&fakeChain{}, true, 10, testLogger())

	minted := s.Score(snap(100, 0, 0), snap(110, 0, 0))
	assert.InDelta(t, 15, minted.Score, 1e-9) // 10% * 1.5
	assert.Equal(t, domain.RiskLow, minted.Level)

	burned := s.Score(snap(100, 0, 0), snap(90, 0, 0))
	assert.InDelta(t, 15, burned.Score, 1e-9)
}

func TestScore_LiquidityIncreaseScoresNothing(t *testing.T) {
	s := NewScorer(&fakeChain{}, true, 10, testLogger())
	got := s.Score(snap(1000, 1000, 0), snap(1000, 1500, 0))
	assert.Zero(t, got.Score)
	assert.Equal(t, domain.RiskLow, got.Level)
	assert.False(t, got.ShouldExit)
}

func TestScore_ZeroPreviousSkipsDeltaChecks(t *testing.T) {
	s := NewScorer(&fakeChain{}, true, 10, testLogger())

	// First run: no previous snapshot, only the absolute holder check fires.
	got := s.Score(domain.ChainSnapshot{}, snap(1000, 500, 20))
	assert.InDelta(t, 10, got.Score, 1e-9) // 20 * 0.5
}

func TestScore_AutoExitDisabled(t *testing.T) {
	s := NewScorer(&fakeChain{}, false, 10, testLogger())

	// 20% mint, 90% LP drain, 90% top holder: every sub-score at its cap.
	got := s.Score(snap(1000, 1000, 0), snap(1200, 100, 90))
	assert.InDelta(t, 100, got.Score, 1e-9)
	assert.Equal(t, domain.RiskCritical, got.Level)
	assert.False(t, got.ShouldExit)
}

func TestScore_SubScoresCapped(t *testing.T) {
	s := NewScorer(&fakeChain{}, true, 10, testLogger())

	// 90% drain, full supply swap, single holder: every sub-score at its cap.
	got := s.Score(snap(100, 1000, 0), snap(500, 100, 100))
	assert.InDelta(t, 100, got.Score, 1e-9)
	assert.Equal(t, domain.RiskCritical, got.Level)
}

func TestSnapshot_PopulatesFromChain(t *testing.T) {
	chain := &fakeChain{
		supply: decimal.NewFromInt(1_000_000),
		pools: []domain.LiquidityPool{
			{Address: "p1", TVLUSD: decimal.NewFromInt(600)},
			{Address: "p2", TVLUSD: decimal.NewFromInt(400)},
		},
		holders: []domain.HolderShare{{Address: "whale", Pct: 42}},
	}
	s := NewScorer(chain, true, 10, testLogger())

	got := s.Snapshot(context.Background(), "TOKEN")
	assert.True(t, got.TotalSupply.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, got.LiquidityUSD.Equal(decimal.NewFromInt(1000)))
	assert.InDelta(t, 42, got.TopHolderPct, 1e-9)
}

func TestSnapshot_DegradesOnChainErrors(t *testing.T) {
	s := NewScorer(&fakeChain{err: errors.New("indexer down")}, true, 10, testLogger())

	got := s.Snapshot(context.Background(), "TOKEN")
	assert.True(t, got.TotalSupply.IsZero())
	assert.True(t, got.LiquidityUSD.IsZero())
	assert.Zero(t, got.TopHolderPct)

	// A degraded snapshot scores zero against any previous one.
	verdict := s.Score(snap(1000, 1000, 0), got)
	assert.Zero(t, verdict.Score)
}

func TestLevelForScore_Boundaries(t *testing.T) {
	assert.Equal(t, domain.RiskLow, domain.LevelForScore(39.9))
	assert.Equal(t, domain.RiskMedium, domain.LevelForScore(40))
	assert.Equal(t, domain.RiskHigh, domain.LevelForScore(60))
	assert.Equal(t, domain.RiskCritical, domain.LevelForScore(80))
}
