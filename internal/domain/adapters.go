package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource fetches a single raw price estimate for a pair from one data
// provider. Fetch returns ok=false for "no data"; an error means transport
// failure. The oracle treats both as the absence of a sample, never as a
// zero price.
type PriceSource interface {
	Name() string
	Fetch(ctx context.Context, pair Pair) (price decimal.Decimal, ok bool, err error)
}

// ExecutionVenue submits and manages orders at the trading venue. Orders are
// identified by an opaque id stable across ListOpenOrders calls. The venue
// adapter owns all transport concerns; callers only decide what and when.
type ExecutionVenue interface {
	ListOpenOrders(ctx context.Context, account string) ([]OpenOrder, error)
	PlaceOrder(ctx context.Context, account string, side OrderSide, price decimal.Decimal, baseUnits int64) (OpenOrder, error)
	CancelOrder(ctx context.Context, account, orderID string) error
	SubmitMarketOrder(ctx context.Context, account string, side OrderSide, baseUnits int64, maxSlippageBps float64) (Fill, error)
}

// ChainData samples on-chain facts about an asset. Each call may fail
// independently; the rug-pull scorer degrades the corresponding sub-check
// instead of failing the whole assessment.
type ChainData interface {
	GetSupply(ctx context.Context, asset string) (decimal.Decimal, error)
	GetLiquidityPools(ctx context.Context, asset string) ([]LiquidityPool, error)
	GetTopHolders(ctx context.Context, asset string, limit int) ([]HolderShare, error)
}
