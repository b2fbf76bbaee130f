// Package rugpull scores abrupt on-chain liquidity, supply, and holder
// changes into a composite risk level per asset. Scoring runs on its own
// interval, independent of the trading cycle, and degrades per sub-check
// when the chain-data adapter fails.
package rugpull

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Sub-score weights and proportionality factors. The three checks sum to a
// score out of 100.
const (
	lpWeight     = 40.0
	lpFactor     = 2.0
	supplyWeight = 30.0
	supplyFactor = 1.5
	holderWeight = 30.0
	holderFactor = 0.5
)

// Scorer samples chain data and turns consecutive snapshots into a
// RiskAssessment.
type Scorer struct {
	chain    domain.ChainData
	autoExit bool
	topLimit int
	logger   *slog.Logger
}

// NewScorer creates a Scorer. autoExit controls whether High/Critical
// assessments set ShouldExit.
func NewScorer(chain domain.ChainData, autoExit bool, topLimit int, logger *slog.Logger) *Scorer {
	if topLimit <= 0 {
		topLimit = 10
	}
	return &Scorer{
		chain:    chain,
		autoExit: autoExit,
		topLimit: topLimit,
		logger:   logger.With(slog.String("component", "rugpull")),
	}
}

// Snapshot fetches the asset's current on-chain state. Each sub-fetch may
// fail independently; a failed fetch leaves the corresponding field at zero
// so the matching sub-check degrades to a zero score instead of failing the
// whole assessment.
func (s *Scorer) Snapshot(ctx context.Context, asset string) domain.ChainSnapshot {
	snap := domain.ChainSnapshot{Asset: asset, TakenAt: time.Now().UTC()}

	supply, err := s.chain.GetSupply(ctx, asset)
	if err != nil {
		s.logger.WarnContext(ctx, "supply fetch failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	} else {
		snap.TotalSupply = supply
	}

	pools, err := s.chain.GetLiquidityPools(ctx, asset)
	if err != nil {
		s.logger.WarnContext(ctx, "liquidity pools fetch failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	} else {
		total := decimal.Zero
		for _, p := range pools {
			total = total.Add(p.TVLUSD)
		}
		snap.LiquidityUSD = total
	}

	holders, err := s.chain.GetTopHolders(ctx, asset, s.topLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "top holders fetch failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	} else if len(holders) > 0 {
		snap.TopHolderPct = holders[0].Pct
	}

	return snap
}

// Score compares the current snapshot against the previous one and produces
// the composite assessment. A zero previous snapshot (first run or failed
// fetch) contributes zero to the delta-based checks.
func (s *Scorer) Score(prev, cur domain.ChainSnapshot) domain.RiskAssessment {
	var (
		score   float64
		reasons []string
	)

	// Liquidity pool drain: only decreases count.
	if prev.LiquidityUSD.IsPositive() && cur.LiquidityUSD.IsPositive() {
		dropPct, _ := prev.LiquidityUSD.Sub(cur.LiquidityUSD).
			Div(prev.LiquidityUSD).Mul(decimal.NewFromInt(100)).Float64()
		if dropPct > 0 {
			sub := capAt(dropPct*lpFactor, lpWeight)
			score += sub
			reasons = append(reasons, fmt.Sprintf("liquidity dropped %.1f%% (sub-score %.0f)", dropPct, sub))
		}
	}

	// Total supply change: both directions count.
	if prev.TotalSupply.IsPositive() && cur.TotalSupply.IsPositive() {
		changePct, _ := cur.TotalSupply.Sub(prev.TotalSupply).Abs().
			Div(prev.TotalSupply).Mul(decimal.NewFromInt(100)).Float64()
		if changePct > 0 {
			sub := capAt(changePct*supplyFactor, supplyWeight)
			score += sub
			reasons = append(reasons, fmt.Sprintf("supply changed %.1f%% (sub-score %.0f)", changePct, sub))
		}
	}

	// Top-holder concentration: absolute, not a delta.
	if cur.TopHolderPct > 0 {
		sub := capAt(cur.TopHolderPct*holderFactor, holderWeight)
		score += sub
		reasons = append(reasons, fmt.Sprintf("top holder owns %.1f%% (sub-score %.0f)", cur.TopHolderPct, sub))
	}

	level := domain.LevelForScore(score)
	return domain.RiskAssessment{
		Asset:      cur.Asset,
		Level:      level,
		Score:      score,
		Reasons:    reasons,
		ShouldExit: s.autoExit && (level == domain.RiskHigh || level == domain.RiskCritical),
		AssessedAt: time.Now().UTC(),
	}
}

func capAt(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}
