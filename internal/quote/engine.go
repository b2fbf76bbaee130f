// Package quote converts a mid-price plus market state into a two-sided
// quote. The computation is pure: all state (inventory ratio, volatility)
// is passed in by the caller.
package quote

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Config holds the spread parameters. Spread values are fractions of the
// mid-price (0.01 = 1%).
type Config struct {
	BaseSpreadPct   float64
	MinSpreadPct    float64
	MaxSpreadPct    float64
	VolatilityCoeff float64
	TargetRatio     float64
	SkewTolerance   float64
	SkewMultiplier  float64
	MinProfitBps    float64
	RoundTripFeeBps float64
}

// Engine computes quotes from the configured spread model.
type Engine struct {
	cfg Config
}

// NewEngine creates a quoting Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Compute derives the bid/ask for the given mid-price.
//
// The base spread is first raised to the profit floor (min profit plus the
// assumed round-trip fee), then scaled by (1 + volatilityFactor × k), then
// clamped to [min, max]. When the inventory ratio drifts past the skew
// tolerance the total is split asymmetrically: excess base inventory widens
// the ask side and tightens the bid side, and vice versa, biasing fills
// toward rebalancing while leaving the total spread unchanged.
//
// volatilityFactor is annualized volatility as a fraction (1.0 = 100%),
// the same measure the circuit breaker computes. inventoryRatio is the
// fraction of account value held in the base asset.
func (e *Engine) Compute(mid decimal.Decimal, inventoryRatio, volatilityFactor float64) (domain.Quote, error) {
	midF, _ := mid.Float64()
	if !mid.IsPositive() || math.IsNaN(midF) || math.IsInf(midF, 0) {
		return domain.Quote{}, fmt.Errorf("quote: mid price %s: %w", mid, domain.ErrInvariantViolation)
	}
	if volatilityFactor < 0 {
		volatilityFactor = 0
	}

	// Profit floor: the spread must at least cover the minimum profit and
	// the assumed round-trip fee.
	total := e.cfg.BaseSpreadPct
	if floor := (e.cfg.MinProfitBps + e.cfg.RoundTripFeeBps) / 10_000; total < floor {
		total = floor
	}

	// Volatility widening.
	total *= 1 + e.cfg.VolatilityCoeff*volatilityFactor

	// Clamp before the skew split; the split preserves the total.
	if total > e.cfg.MaxSpreadPct {
		total = e.cfg.MaxSpreadPct
	}
	if total < e.cfg.MinSpreadPct {
		total = e.cfg.MinSpreadPct
	}

	// Symmetric split, then asymmetric re-split on skew.
	bidOffset := total / 2
	askOffset := total / 2
	if skew := inventoryRatio - e.cfg.TargetRatio; math.Abs(skew) > e.cfg.SkewTolerance {
		m := e.cfg.SkewMultiplier
		if m < 1 {
			m = 1
		}
		if skew > 0 {
			// Too much base: widen the ask, tighten the bid.
			askOffset = total * m / (m + 1)
			bidOffset = total / (m + 1)
		} else {
			// Too much quote: widen the bid, tighten the ask.
			bidOffset = total * m / (m + 1)
			askOffset = total / (m + 1)
		}
	}

	one := decimal.NewFromInt(1)
	return domain.Quote{
		BidPrice:  mid.Mul(one.Sub(decimal.NewFromFloat(bidOffset))),
		AskPrice:  mid.Mul(one.Add(decimal.NewFromFloat(askOffset))),
		BidSpread: bidOffset,
		AskSpread: askOffset,
	}, nil
}
