package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel buckets a composite rug-pull risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelForScore maps a composite score in [0,100] onto a RiskLevel.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskAssessment is the scorer's verdict for one asset at one instant.
// Assessments are recomputed on a fixed interval; only the previous one is
// retained, and only for delta comparison.
type RiskAssessment struct {
	Asset      string
	Level      RiskLevel
	Score      float64 // [0,100]
	Reasons    []string
	ShouldExit bool
	AssessedAt time.Time
}

// ChainSnapshot is one observation of an asset's on-chain state, as far as
// the chain-data adapter could fetch it. Fields left at zero mean the
// corresponding fetch failed and the sub-check degrades to a zero score.
type ChainSnapshot struct {
	Asset        string
	TotalSupply  decimal.Decimal
	LiquidityUSD decimal.Decimal
	TopHolderPct float64 // [0,100]
	TakenAt      time.Time
}

// LiquidityPool describes a single pool holding the asset.
type LiquidityPool struct {
	Address      string
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	TVLUSD       decimal.Decimal
}

// HolderShare is one entry of an asset's holder distribution.
type HolderShare struct {
	Address string
	Pct     float64 // [0,100]
}
