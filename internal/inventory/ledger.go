// Package inventory tracks per-account holdings and cost basis. The ledger
// is the only mutator of Inventory; the lifecycle manager guarantees
// ApplyFill is called exactly once per fill.
package inventory

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Ledger holds the in-memory inventory of every trading account. Durable
// persistence is owned by the lifecycle manager, which saves the combined
// account state after each mutation.
type Ledger struct {
	logger *slog.Logger

	mu  sync.RWMutex
	inv map[string]domain.Inventory
}

// NewLedger creates an empty Ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{
		logger: logger.With(slog.String("component", "inventory")),
		inv:    make(map[string]domain.Inventory),
	}
}

// Restore seeds an account's inventory, typically from the state store on
// startup. It overwrites any in-memory state for the account.
func (l *Ledger) Restore(inv domain.Inventory) {
	l.mu.Lock()
	l.inv[inv.Account] = inv
	l.mu.Unlock()
}

// Get returns the account's current inventory. An unknown account yields a
// zero inventory carrying the account id.
func (l *Ledger) Get(account string) domain.Inventory {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if inv, ok := l.inv[account]; ok {
		return inv
	}
	return domain.Inventory{Account: account, AvgCostBasis: decimal.Zero}
}

// ApplyFill applies one executed order to the account's balances and
// returns the updated inventory.
//
// On a buy the base balance grows, the quote balance shrinks, and the
// average cost basis is recomputed as the value-weighted average of the
// pre-fill holdings and the fill. On a sell only the balances move; the
// cost basis is untouched. A fill that would drive either balance negative
// is rejected with domain.ErrInvariantViolation and leaves state unchanged.
func (l *Ledger) ApplyFill(account string, fill domain.Fill) (domain.Inventory, error) {
	if fill.BaseUnits <= 0 || fill.QuoteUnits < 0 {
		return domain.Inventory{}, fmt.Errorf("inventory: fill amounts base=%d quote=%d: %w",
			fill.BaseUnits, fill.QuoteUnits, domain.ErrInvariantViolation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.inv[account]
	if !ok {
		inv = domain.Inventory{Account: account, AvgCostBasis: decimal.Zero}
	}

	switch fill.Side {
	case domain.OrderSideBuy:
		if inv.QuoteUnits-fill.QuoteUnits < 0 {
			return domain.Inventory{}, fmt.Errorf("inventory: buy of %d quote units exceeds balance %d: %w",
				fill.QuoteUnits, inv.QuoteUnits, domain.ErrInvariantViolation)
		}
		prevBase := decimal.NewFromInt(inv.BaseUnits)
		fillBase := decimal.NewFromInt(fill.BaseUnits)
		prevValue := inv.AvgCostBasis.Mul(prevBase)
		fillValue := fill.Price.Mul(fillBase)
		inv.AvgCostBasis = prevValue.Add(fillValue).Div(prevBase.Add(fillBase))
		inv.BaseUnits += fill.BaseUnits
		inv.QuoteUnits -= fill.QuoteUnits

	case domain.OrderSideSell:
		if inv.BaseUnits-fill.BaseUnits < 0 {
			return domain.Inventory{}, fmt.Errorf("inventory: sell of %d base units exceeds balance %d: %w",
				fill.BaseUnits, inv.BaseUnits, domain.ErrInvariantViolation)
		}
		inv.BaseUnits -= fill.BaseUnits
		inv.QuoteUnits += fill.QuoteUnits

	default:
		return domain.Inventory{}, fmt.Errorf("inventory: unknown side %q: %w", fill.Side, domain.ErrInvariantViolation)
	}

	inv.LastUpdate = time.Now().UTC()
	l.inv[account] = inv

	l.logger.Info("fill applied",
		slog.String("account", account),
		slog.String("side", string(fill.Side)),
		slog.String("price", fill.Price.String()),
		slog.Int64("base_units", fill.BaseUnits),
		slog.Int64("quote_units", fill.QuoteUnits),
		slog.String("avg_cost_basis", inv.AvgCostBasis.String()),
	)
	return inv, nil
}
