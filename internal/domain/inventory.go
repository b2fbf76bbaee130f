package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inventory tracks one account's holdings in atomic on-chain units together
// with the size-weighted average entry price of the base asset.
//
// Invariants: BaseUnits >= 0 and QuoteUnits >= 0 at all times. AvgCostBasis
// changes only on fills that increase base holdings (buys); sells leave it
// untouched. Mutation happens exclusively through the inventory ledger.
type Inventory struct {
	Account      string
	BaseUnits    int64
	QuoteUnits   int64
	AvgCostBasis decimal.Decimal
	LastUpdate   time.Time
}

// BaseValue returns the value of the base holdings at the given price,
// expressed in quote units.
func (inv Inventory) BaseValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(inv.BaseUnits))
}

// Ratio returns the fraction of total account value held in the base asset
// at the given price. An empty account has ratio 0.
func (inv Inventory) Ratio(price decimal.Decimal) float64 {
	baseVal := inv.BaseValue(price)
	total := baseVal.Add(decimal.NewFromInt(inv.QuoteUnits))
	if !total.IsPositive() {
		return 0
	}
	r, _ := baseVal.Div(total).Float64()
	return r
}

// Fill is an executed order as observed by the lifecycle manager. BaseUnits
// and QuoteUnits are the amounts that moved, always positive; Side says in
// which direction.
type Fill struct {
	OrderID    string
	Side       OrderSide
	Price      decimal.Decimal
	BaseUnits  int64
	QuoteUnits int64
	FilledAt   time.Time
}
