package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Pair is a base asset quoted against a quote asset. Both fields are venue
// asset identifiers (mint addresses or symbols, depending on the adapter).
type Pair struct {
	Base  string
	Quote string
}

// String renders the pair as "BASE/QUOTE" for logging and cache keys.
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// PriceSample is a single raw price estimate produced by one source adapter
// call. Samples are immutable and discarded after aggregation.
type PriceSample struct {
	Price      decimal.Decimal
	SourceID   string
	Confidence float64 // [0,1]
	ObservedAt time.Time
}

// AggregatedPrice is the oracle's trusted view of a pair at one instant.
// Invariant: BestBid < MidPrice < BestAsk. When Fallback is true the value
// was synthesized from the last accepted price because fewer than the
// configured minimum of sources responded, and Confidence is capped at 0.5.
type AggregatedPrice struct {
	Pair     Pair
	MidPrice decimal.Decimal
	// RawMid is the two-pass filtered median before the dampening guard was
	// applied. The circuit breaker's price history consumes RawMid, not
	// MidPrice, so dampening cannot mask a deviation trip.
	RawMid     decimal.Decimal
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	Samples    []PriceSample
	Confidence float64
	Fallback   bool
	ComputedAt time.Time
}

// Valid reports whether the aggregate satisfies the bid/mid/ask ordering
// invariant with a strictly positive mid.
func (a AggregatedPrice) Valid() bool {
	return a.MidPrice.IsPositive() &&
		a.BestBid.LessThan(a.MidPrice) &&
		a.MidPrice.LessThan(a.BestAsk)
}
