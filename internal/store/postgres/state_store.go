package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL. One row per
// account holds the inventory balances and the resting orders as JSONB.
type StateStore struct {
	pool *pgxpool.Pool
}

var _ domain.StateStore = (*StateStore)(nil)

// NewStateStore creates a StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// storedOrder is the JSONB shape of one resting order.
type storedOrder struct {
	ID        string    `json:"id"`
	Side      string    `json:"side"`
	Price     string    `json:"price"`
	BaseUnits int64     `json:"base_units"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadState implements domain.StateStore.
func (s *StateStore) LoadState(ctx context.Context, account string) (domain.AccountState, error) {
	const query = `
		SELECT base_units, quote_units, avg_cost_basis, bid_order, ask_order, last_refresh, updated_at
		FROM account_state
		WHERE account = $1`

	var (
		state       domain.AccountState
		costBasis   string
		bidJSON     []byte
		askJSON     []byte
		lastRefresh sql.NullTime
	)
	err := s.pool.QueryRow(ctx, query, account).Scan(
		&state.Inventory.BaseUnits,
		&state.Inventory.QuoteUnits,
		&costBasis,
		&bidJSON,
		&askJSON,
		&lastRefresh,
		&state.Inventory.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountState{}, fmt.Errorf("postgres: account %s: %w", account, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: load state %s: %w", account, err)
	}

	state.Inventory.Account = account
	state.Orders.Account = account
	if lastRefresh.Valid {
		state.Orders.LastRefresh = lastRefresh.Time
	}

	state.Inventory.AvgCostBasis, err = decimal.NewFromString(costBasis)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: cost basis %q: %w", costBasis, err)
	}

	if state.Orders.Bid, err = decodeOrder(bidJSON); err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: decode bid order: %w", err)
	}
	if state.Orders.Ask, err = decodeOrder(askJSON); err != nil {
		return domain.AccountState{}, fmt.Errorf("postgres: decode ask order: %w", err)
	}
	return state, nil
}

// SaveState implements domain.StateStore with an upsert keyed by account.
func (s *StateStore) SaveState(ctx context.Context, state domain.AccountState) error {
	bidJSON, err := encodeOrder(state.Orders.Bid)
	if err != nil {
		return fmt.Errorf("postgres: encode bid order: %w", err)
	}
	askJSON, err := encodeOrder(state.Orders.Ask)
	if err != nil {
		return fmt.Errorf("postgres: encode ask order: %w", err)
	}

	var lastRefresh any
	if !state.Orders.LastRefresh.IsZero() {
		lastRefresh = state.Orders.LastRefresh
	}

	const query = `
		INSERT INTO account_state (account, base_units, quote_units, avg_cost_basis, bid_order, ask_order, last_refresh, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account) DO UPDATE SET
			base_units = EXCLUDED.base_units,
			quote_units = EXCLUDED.quote_units,
			avg_cost_basis = EXCLUDED.avg_cost_basis,
			bid_order = EXCLUDED.bid_order,
			ask_order = EXCLUDED.ask_order,
			last_refresh = EXCLUDED.last_refresh,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		state.Inventory.Account,
		state.Inventory.BaseUnits,
		state.Inventory.QuoteUnits,
		state.Inventory.AvgCostBasis.String(),
		bidJSON,
		askJSON,
		lastRefresh,
	)
	if err != nil {
		return fmt.Errorf("postgres: save state %s: %w", state.Inventory.Account, err)
	}
	return nil
}

func encodeOrder(o *domain.PlacedOrder) ([]byte, error) {
	if o == nil {
		return nil, nil
	}
	return json.Marshal(storedOrder{
		ID:        o.ID,
		Side:      string(o.Side),
		Price:     o.Price.String(),
		BaseUnits: o.BaseUnits,
		CreatedAt: o.CreatedAt,
	})
}

func decodeOrder(raw []byte) (*domain.PlacedOrder, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var so storedOrder
	if err := json.Unmarshal(raw, &so); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(so.Price)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", so.Price, err)
	}
	return &domain.PlacedOrder{
		ID:        so.ID,
		Side:      domain.OrderSide(so.Side),
		Price:     price,
		BaseUnits: so.BaseUnits,
		CreatedAt: so.CreatedAt,
	}, nil
}
