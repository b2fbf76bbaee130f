// Package lifecycle drives the per-account trading loop: it gates every
// cycle on the shared circuit breaker and rug-pull scorer, detects fills,
// cancels drifted orders, rebalances inventory, and places fresh quotes
// through the execution venue adapter.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfold/dexmaker/internal/audit"
	"github.com/quantfold/dexmaker/internal/breaker"
	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/inventory"
	"github.com/quantfold/dexmaker/internal/oracle"
	"github.com/quantfold/dexmaker/internal/quote"
	"github.com/quantfold/dexmaker/internal/rugpull"
)

// Config holds the per-account loop parameters.
type Config struct {
	Pair          domain.Pair
	BaseDecimals  int
	QuoteDecimals int

	RefreshInterval  time.Duration
	ErrorBackoff     time.Duration
	MinOrderInterval time.Duration

	OrderSizeBaseUnits int64
	// DriftTolerancePct is the relative deviation (whole percent) between a
	// resting order and the fresh target beyond which the order is
	// cancelled. Zero means "use the slippage budget".
	DriftTolerancePct  float64
	RebalanceThreshold float64
	RebalanceFraction  float64
	MinRebalanceValue  int64 // quote units
	MaxSlippageBps     float64
	TargetRatio        float64
}

// RiskReader is the slice of the rug-pull monitor the runner needs.
type RiskReader interface {
	Latest(asset string) (domain.RiskAssessment, bool)
}

// Runner owns one account's trading loop. Loops for different accounts are
// independent; within one loop, steps run strictly sequentially.
type Runner struct {
	account  string
	cfg      Config
	oracle   *oracle.Oracle
	breaker  *breaker.Breaker
	risk     RiskReader // may be nil
	ledger   *inventory.Ledger
	quoter   *quote.Engine
	venue    domain.ExecutionVenue
	store    domain.StateStore // may be nil
	recorder *audit.Recorder
	limiter  *rate.Limiter
	logger   *slog.Logger

	// mu guards orders, safety and sandwichRisk. The loop goroutine is the
	// only writer of orders and safety; the accessors and SetSandwichRisk
	// may be called from other goroutines (status server, feed watchers).
	mu           sync.Mutex
	orders       domain.OrderState
	safety       domain.SafetyState
	sandwichRisk bool
	resumeHold   bool
}

var _ RiskReader = (*rugpull.Monitor)(nil)

// NewRunner creates a Runner for one account. risk and store may be nil.
func NewRunner(
	account string,
	cfg Config,
	o *oracle.Oracle,
	b *breaker.Breaker,
	risk RiskReader,
	ledger *inventory.Ledger,
	quoter *quote.Engine,
	venue domain.ExecutionVenue,
	store domain.StateStore,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *Runner {
	interval := cfg.MinOrderInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{
		account:  account,
		cfg:      cfg,
		oracle:   o,
		breaker:  b,
		risk:     risk,
		ledger:   ledger,
		quoter:   quoter,
		venue:    venue,
		store:    store,
		recorder: recorder,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		logger: logger.With(
			slog.String("component", "lifecycle"),
			slog.String("account", account),
		),
		orders: domain.OrderState{Account: account},
	}
}

// Account returns the account this runner trades for.
func (r *Runner) Account() string { return r.account }

// Safety returns the account-local safety mirror.
func (r *Runner) Safety() domain.SafetyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.safety
}

// Orders returns a copy of the account's resting orders.
func (r *Runner) Orders() domain.OrderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders
}

// SetSandwichRisk raises or clears the sandwich-risk signal. While raised,
// no new resting orders are placed for this account.
func (r *Runner) SetSandwichRisk(active bool) {
	r.mu.Lock()
	r.sandwichRisk = active
	r.mu.Unlock()
}

// SetResumeHold parks or releases the account during a gradual resume. Held
// accounts keep idling as if the breaker were still open; the resume
// supervisor releases them step by step.
func (r *Runner) SetResumeHold(held bool) {
	r.mu.Lock()
	r.resumeHold = held
	r.mu.Unlock()
}

// Run restores persisted state and executes trading cycles until the
// context is cancelled or an invariant violation halts the account. A cycle
// error causes a backoff sleep longer than the refresh interval; a safety
// halt idles at the normal cadence until conditions clear. On return the
// final state is saved.
func (r *Runner) Run(ctx context.Context) error {
	r.restore(ctx)
	r.logger.InfoContext(ctx, "account loop started",
		slog.String("pair", r.cfg.Pair.String()),
		slog.Duration("refresh_interval", r.cfg.RefreshInterval),
	)
	defer r.logger.Info("account loop stopped")

	for {
		wait := r.cfg.RefreshInterval

		err := r.cycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			r.saveFinal()
			return ctx.Err()
		case errors.Is(err, domain.ErrTradingHalted):
			// Expected no-op outcome; idle until conditions clear.
		case errors.Is(err, domain.ErrInvariantViolation):
			r.logger.ErrorContext(ctx, "invariant violation, halting account loop",
				slog.String("error", err.Error()),
			)
			r.recorder.Record(ctx, r.account, domain.AuditLoopHalted, err.Error(), nil)
			r.saveFinal()
			return fmt.Errorf("lifecycle: account %s halted: %w", r.account, err)
		default:
			r.logger.WarnContext(ctx, "cycle failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", r.cfg.ErrorBackoff),
			)
			wait = r.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.saveFinal()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// restore loads durable state for the account, if a store is configured.
func (r *Runner) restore(ctx context.Context) {
	if r.store == nil {
		return
	}
	state, err := r.store.LoadState(ctx, r.account)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "state restore failed, starting fresh",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	r.ledger.Restore(state.Inventory)
	r.mu.Lock()
	r.orders = state.Orders
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "state restored",
		slog.Int64("base_units", state.Inventory.BaseUnits),
		slog.Int64("quote_units", state.Inventory.QuoteUnits),
		slog.Bool("has_bid", state.Orders.Bid != nil),
		slog.Bool("has_ask", state.Orders.Ask != nil),
	)
}

// save persists the combined account state, best effort.
func (r *Runner) save(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	orders := r.orders
	r.mu.Unlock()
	state := domain.AccountState{
		Inventory: r.ledger.Get(r.account),
		Orders:    orders,
	}
	if err := r.store.SaveState(ctx, state); err != nil {
		r.logger.WarnContext(ctx, "state save failed",
			slog.String("error", err.Error()),
		)
	}
}

// saveFinal persists state during shutdown with its own short deadline, so
// a cancelled run context cannot prevent the final reconciliation write.
func (r *Runner) saveFinal() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.save(ctx)
}
