package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell of the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PlacedOrder is the lifecycle manager's record of one resting order it
// submitted to the venue. The ID is the venue's opaque identifier, stable
// across ListOpenOrders calls.
type PlacedOrder struct {
	ID        string
	Side      OrderSide
	Price     decimal.Decimal
	BaseUnits int64
	CreatedAt time.Time
}

// OrderState holds an account's resting orders. At most one open order per
// side per account exists at any time; this is the core liveness invariant
// the lifecycle manager preserves.
type OrderState struct {
	Account     string
	Bid         *PlacedOrder
	Ask         *PlacedOrder
	LastRefresh time.Time
}

// Get returns the resting order for the given side, or nil.
func (s *OrderState) Get(side OrderSide) *PlacedOrder {
	if side == OrderSideBuy {
		return s.Bid
	}
	return s.Ask
}

// Set records (or clears, with nil) the resting order for the given side.
func (s *OrderState) Set(side OrderSide, o *PlacedOrder) {
	if side == OrderSideBuy {
		s.Bid = o
	} else {
		s.Ask = o
	}
}

// OpenOrder is an order as reported by the execution venue.
type OpenOrder struct {
	ID        string
	Side      OrderSide
	Price     decimal.Decimal
	BaseUnits int64
	CreatedAt time.Time
}

// Quote is a two-sided price produced by the quoting engine.
type Quote struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	// BidSpread and AskSpread are the per-side fractional half-spreads the
	// prices were derived from, kept for logging and tests.
	BidSpread float64
	AskSpread float64
}

// TotalSpread returns the combined fractional spread of both sides.
func (q Quote) TotalSpread() float64 {
	return q.BidSpread + q.AskSpread
}

// SafetyState is an account-local mirror of the shared breaker and risk
// scorer outputs. Keeping it per account lets one account finish a
// rebalance while others halt.
type SafetyState struct {
	BreakerTripped    bool
	RugPullFlagged    bool
	BlockedTradeCount int
}

// TradingAllowed reports whether this account may submit new orders.
func (s SafetyState) TradingAllowed() bool {
	return !s.BreakerTripped && !s.RugPullFlagged
}
