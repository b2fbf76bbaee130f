package inventory

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/domain"
)

func testLedger() *Ledger {
	return NewLedger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApplyFill_BuyRecomputesCostBasis(t *testing.T) {
	l := testLedger()
	l.Restore(domain.Inventory{
		Account:      "acct",
		BaseUnits:    100,
		QuoteUnits:   10_000,
		AvgCostBasis: decimal.NewFromInt(10),
	})

	inv, err := l.ApplyFill("acct", domain.Fill{
		OrderID:    "o1",
		Side:       domain.OrderSideBuy,
		Price:      decimal.NewFromInt(12),
		BaseUnits:  100,
		QuoteUnits: 1_200,
	})
	require.NoError(t, err)

	// (100*10 + 100*12) / 200 = 11
	assert.True(t, inv.AvgCostBasis.Equal(decimal.NewFromInt(11)),
		"got basis %s", inv.AvgCostBasis)
	assert.Equal(t, int64(200), inv.BaseUnits)
	assert.Equal(t, int64(8_800), inv.QuoteUnits)
}

func TestApplyFill_SellLeavesCostBasis(t *testing.T) {
	l := testLedger()
	l.Restore(domain.Inventory{
		Account:      "acct",
		BaseUnits:    200,
		QuoteUnits:   1_000,
		AvgCostBasis: decimal.NewFromInt(11),
	})

	inv, err := l.ApplyFill("acct", domain.Fill{
		OrderID:    "o2",
		Side:       domain.OrderSideSell,
		Price:      decimal.NewFromInt(13),
		BaseUnits:  50,
		QuoteUnits: 650,
	})
	require.NoError(t, err)

	assert.True(t, inv.AvgCostBasis.Equal(decimal.NewFromInt(11)))
	assert.Equal(t, int64(150), inv.BaseUnits)
	assert.Equal(t, int64(1_650), inv.QuoteUnits)
}

func TestApplyFill_RejectsOverdraw(t *testing.T) {
	l := testLedger()
	l.Restore(domain.Inventory{Account: "acct", BaseUnits: 10, QuoteUnits: 100, AvgCostBasis: decimal.Zero})

	_, err := l.ApplyFill("acct", domain.Fill{
		Side: domain.OrderSideSell, Price: decimal.NewFromInt(1), BaseUnits: 11, QuoteUnits: 11,
	})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	_, err = l.ApplyFill("acct", domain.Fill{
		Side: domain.OrderSideBuy, Price: decimal.NewFromInt(1), BaseUnits: 200, QuoteUnits: 200,
	})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	// A rejected fill leaves state untouched.
	inv := l.Get("acct")
	assert.Equal(t, int64(10), inv.BaseUnits)
	assert.Equal(t, int64(100), inv.QuoteUnits)
}

func TestApplyFill_RejectsBadAmountsAndSide(t *testing.T) {
	l := testLedger()

	_, err := l.ApplyFill("acct", domain.Fill{Side: domain.OrderSideBuy, BaseUnits: 0})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	_, err = l.ApplyFill("acct", domain.Fill{Side: "short", Price: decimal.NewFromInt(1), BaseUnits: 1})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestGet_UnknownAccountIsZero(t *testing.T) {
	l := testLedger()
	inv := l.Get("fresh")
	assert.Equal(t, "fresh", inv.Account)
	assert.Zero(t, inv.BaseUnits)
	assert.Zero(t, inv.QuoteUnits)
	assert.True(t, inv.AvgCostBasis.IsZero())
}

func TestInventoryRatio(t *testing.T) {
	inv := domain.Inventory{BaseUnits: 100, QuoteUnits: 1_000}
	// Base value 100*10 = 1000, total 2000.
	assert.InDelta(t, 0.5, inv.Ratio(decimal.NewFromInt(10)), 1e-9)

	empty := domain.Inventory{}
	assert.Zero(t, empty.Ratio(decimal.NewFromInt(10)))
}
