package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/metrics"
)

// cycle runs one full trading iteration. Steps run strictly in order:
// safety gates, price refresh, fill detection, stale-order cancellation,
// rebalancing, placement. Adapter errors during cancel or place are logged
// and skip the affected order without aborting the cycle; list and price
// errors abort it (the loop backs off and retries).
func (r *Runner) cycle(ctx context.Context) error {
	if err := r.gate(ctx); err != nil {
		return err
	}

	agg, err := r.oracle.GetPrice(ctx, r.cfg.Pair, false)
	if err != nil {
		return fmt.Errorf("lifecycle: refresh price: %w", err)
	}

	// The breaker sees the undampened median so dampening cannot mask a
	// deviation trip.
	raw, _ := agg.RawMid.Float64()
	r.breaker.RecordPrice(raw)
	if r.breaker.CheckAndTrip(ctx) {
		return r.blocked(ctx, "breaker", string(r.breaker.Status().TripReason))
	}

	unit := r.unitPrice(agg.MidPrice)

	inv := r.ledger.Get(r.account)
	volPct, _ := r.breaker.Volatility()
	q, err := r.quoter.Compute(agg.MidPrice, inv.Ratio(unit), volPct/100)
	if err != nil {
		return fmt.Errorf("lifecycle: compute quote: %w", err)
	}

	open, err := r.venue.ListOpenOrders(ctx, r.account)
	if err != nil {
		r.breaker.RecordTradeResult(false)
		return fmt.Errorf("lifecycle: list open orders: %w", err)
	}

	if err := r.detectFills(ctx, open, unit); err != nil {
		return err
	}
	r.cancelDrifted(ctx, open, q)
	if err := r.rebalance(ctx, unit); err != nil {
		return err
	}
	if err := r.placeMissing(ctx, q, unit); err != nil {
		return err
	}

	r.mu.Lock()
	r.orders.LastRefresh = time.Now().UTC()
	r.mu.Unlock()

	inv = r.ledger.Get(r.account)
	metrics.InventoryRatio.WithLabelValues(r.account).Set(inv.Ratio(unit))
	r.save(ctx)
	return nil
}

// gate evaluates the shared breaker and rug-pull outputs and refreshes the
// account-local safety mirror. When either gate is closed it records the
// blocked cycle and returns domain.ErrTradingHalted. Raising the rug-pull
// flag additionally triggers a one-time position exit.
func (r *Runner) gate(ctx context.Context) error {
	allowed := r.breaker.Allowed()

	flagged := false
	var riskReason string
	if r.risk != nil {
		if ra, ok := r.risk.Latest(r.cfg.Pair.Base); ok && ra.ShouldExit {
			flagged = true
			riskReason = strings.Join(ra.Reasons, "; ")
		}
	}

	r.mu.Lock()
	wasFlagged := r.safety.RugPullFlagged
	r.safety.BreakerTripped = !allowed || r.resumeHold
	r.safety.RugPullFlagged = flagged
	ok := r.safety.TradingAllowed()
	if !ok {
		r.safety.BlockedTradeCount++
	}
	held := r.resumeHold
	r.mu.Unlock()

	if flagged && !wasFlagged {
		r.exitPositions(ctx, riskReason)
	}
	if ok {
		return nil
	}

	gate, detail := "breaker", string(r.breaker.Status().TripReason)
	switch {
	case flagged && allowed && !held:
		gate, detail = "rugpull", riskReason
	case held && allowed:
		detail = "gradual resume hold"
	}
	return r.blocked(ctx, gate, detail)
}

// blocked records a cycle skipped by a safety gate.
func (r *Runner) blocked(ctx context.Context, gate, detail string) error {
	metrics.BlockedTradesTotal.WithLabelValues(r.account, gate).Inc()
	r.logger.WarnContext(ctx, "trading blocked",
		slog.String("gate", gate),
		slog.String("detail", detail),
	)
	r.recorder.Record(ctx, r.account, domain.AuditSafetyHalt, detail, map[string]string{
		"gate": gate,
	})
	return fmt.Errorf("lifecycle: %s gate: %w", gate, domain.ErrTradingHalted)
}

// exitPositions cancels both resting orders and market-sells the entire base
// inventory. Called once when the rug-pull flag transitions to raised;
// failures are logged and left for manual intervention.
func (r *Runner) exitPositions(ctx context.Context, why string) {
	r.logger.WarnContext(ctx, "rug-pull exit triggered", slog.String("reason", why))

	for _, side := range [2]domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		o := r.getOrder(side)
		if o == nil {
			continue
		}
		if err := r.venue.CancelOrder(ctx, r.account, o.ID); err != nil {
			r.logger.WarnContext(ctx, "exit cancel failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.setOrder(side, nil)
	}

	inv := r.ledger.Get(r.account)
	if inv.BaseUnits <= 0 {
		return
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	fill, err := r.venue.SubmitMarketOrder(ctx, r.account, domain.OrderSideSell, inv.BaseUnits, r.cfg.MaxSlippageBps)
	if err != nil {
		r.breaker.RecordTradeResult(false)
		r.logger.ErrorContext(ctx, "exit market sell failed",
			slog.Int64("base_units", inv.BaseUnits),
			slog.String("error", err.Error()),
		)
		return
	}
	r.breaker.RecordTradeResult(true)
	if _, err := r.ledger.ApplyFill(r.account, fill); err != nil {
		r.logger.ErrorContext(ctx, "exit fill rejected", slog.String("error", err.Error()))
		return
	}
	r.recorder.Record(ctx, r.account, domain.AuditRugPullExit, why, map[string]string{
		"base_units": strconv.FormatInt(fill.BaseUnits, 10),
		"price":      fill.Price.String(),
	})
	r.save(ctx)
}

// detectFills treats a tracked order that is missing from the venue's open
// list as fully filled. Ledger rejection of a fill is an invariant violation
// and propagates so the loop halts instead of drifting from reality.
func (r *Runner) detectFills(ctx context.Context, open []domain.OpenOrder, unit decimal.Decimal) error {
	live := make(map[string]struct{}, len(open))
	for _, o := range open {
		live[o.ID] = struct{}{}
	}

	for _, side := range [2]domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		o := r.getOrder(side)
		if o == nil {
			continue
		}
		if _, ok := live[o.ID]; ok {
			continue
		}

		fill := domain.Fill{
			OrderID:    o.ID,
			Side:       side,
			Price:      o.Price,
			BaseUnits:  o.BaseUnits,
			QuoteUnits: r.quoteUnits(o.Price, o.BaseUnits),
			FilledAt:   time.Now().UTC(),
		}

		basis := r.ledger.Get(r.account).AvgCostBasis
		inv, err := r.ledger.ApplyFill(r.account, fill)
		if err != nil {
			return fmt.Errorf("lifecycle: apply fill %s: %w", o.ID, err)
		}
		r.setOrder(side, nil)

		// Feed realized pnl on sells into the breaker's running loss,
		// weighted by the share of the position that was closed.
		if side == domain.OrderSideSell && basis.IsPositive() {
			pnlPct, _ := fill.Price.Sub(basis).Div(basis).Float64()
			weight := float64(fill.BaseUnits) / float64(inv.BaseUnits+fill.BaseUnits)
			r.breaker.RecordLoss(-pnlPct * 100 * weight)
		}

		metrics.FillsTotal.WithLabelValues(r.account, string(side)).Inc()
		r.logger.InfoContext(ctx, "fill detected",
			slog.String("order_id", o.ID),
			slog.String("side", string(side)),
			slog.String("price", o.Price.String()),
			slog.Int64("base_units", o.BaseUnits),
		)
		r.recorder.Record(ctx, r.account, domain.AuditFill, "order absent from venue open list", map[string]string{
			"order_id":   o.ID,
			"side":       string(side),
			"price":      o.Price.String(),
			"base_units": strconv.FormatInt(o.BaseUnits, 10),
		})
	}
	return nil
}

// cancelDrifted cancels resting orders whose price has drifted from the
// fresh quote beyond the tolerance. A failed cancel keeps the local record
// so the order is retried next cycle.
func (r *Runner) cancelDrifted(ctx context.Context, open []domain.OpenOrder, q domain.Quote) {
	tol := r.cfg.DriftTolerancePct
	if tol <= 0 {
		tol = r.cfg.MaxSlippageBps / 100
	}

	live := make(map[string]struct{}, len(open))
	for _, o := range open {
		live[o.ID] = struct{}{}
	}

	targets := map[domain.OrderSide]decimal.Decimal{
		domain.OrderSideBuy:  q.BidPrice,
		domain.OrderSideSell: q.AskPrice,
	}
	for side, target := range targets {
		o := r.getOrder(side)
		if o == nil {
			continue
		}
		if _, ok := live[o.ID]; !ok {
			continue
		}
		if driftPct(o.Price, target) <= tol {
			continue
		}
		if err := r.venue.CancelOrder(ctx, r.account, o.ID); err != nil {
			r.logger.WarnContext(ctx, "cancel failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.setOrder(side, nil)
		metrics.OrdersCancelledTotal.WithLabelValues(r.account, string(side)).Inc()
		r.logger.InfoContext(ctx, "stale order cancelled",
			slog.String("order_id", o.ID),
			slog.String("side", string(side)),
			slog.String("order_price", o.Price.String()),
			slog.String("target_price", target.String()),
		)
		r.recorder.Record(ctx, r.account, domain.AuditOrderCancel, "price drift beyond tolerance", map[string]string{
			"order_id":     o.ID,
			"side":         string(side),
			"order_price":  o.Price.String(),
			"target_price": target.String(),
		})
	}
}

// rebalance submits one market order moving a fraction of the imbalance
// back toward the target ratio when the inventory has drifted past the
// threshold. Dust-sized corrections are skipped.
func (r *Runner) rebalance(ctx context.Context, unit decimal.Decimal) error {
	inv := r.ledger.Get(r.account)
	baseVal := inv.BaseValue(unit)
	total := baseVal.Add(decimal.NewFromInt(inv.QuoteUnits))
	if !total.IsPositive() {
		return nil
	}

	ratio := inv.Ratio(unit)
	dev := ratio - r.cfg.TargetRatio
	if math.Abs(dev) <= r.cfg.RebalanceThreshold {
		return nil
	}

	// Correction size in quote units: a fraction of the value imbalance.
	valueF, _ := total.Float64()
	correction := int64(math.Abs(dev) * valueF * r.cfg.RebalanceFraction)
	if correction < r.cfg.MinRebalanceValue {
		r.logger.DebugContext(ctx, "rebalance below significance floor",
			slog.Int64("correction", correction),
			slog.Float64("ratio", ratio),
		)
		return nil
	}

	side := domain.OrderSideSell
	if dev < 0 {
		side = domain.OrderSideBuy
	}
	baseUnits := decimal.NewFromInt(correction).Div(unit).IntPart()
	if side == domain.OrderSideSell && baseUnits > inv.BaseUnits {
		baseUnits = inv.BaseUnits
	}
	if baseUnits <= 0 {
		return nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	fill, err := r.venue.SubmitMarketOrder(ctx, r.account, side, baseUnits, r.cfg.MaxSlippageBps)
	if err != nil {
		r.breaker.RecordTradeResult(false)
		r.logger.WarnContext(ctx, "rebalance order failed",
			slog.String("side", string(side)),
			slog.Int64("base_units", baseUnits),
			slog.String("error", err.Error()),
		)
		return nil
	}
	r.breaker.RecordTradeResult(true)

	if _, err := r.ledger.ApplyFill(r.account, fill); err != nil {
		return fmt.Errorf("lifecycle: apply rebalance fill: %w", err)
	}
	metrics.RebalancesTotal.WithLabelValues(r.account).Inc()
	r.logger.InfoContext(ctx, "rebalanced",
		slog.String("side", string(side)),
		slog.Int64("base_units", fill.BaseUnits),
		slog.Float64("ratio_before", ratio),
	)
	r.recorder.Record(ctx, r.account, domain.AuditRebalance, "inventory ratio past threshold", map[string]string{
		"side":       string(side),
		"base_units": strconv.FormatInt(fill.BaseUnits, 10),
		"ratio":      fmt.Sprintf("%.4f", ratio),
	})
	return nil
}

// placeMissing submits a fresh resting order for any side without one,
// subject to balance sufficiency, the sandwich-risk signal and the
// per-account rate limit. A failed placement is retried next cycle.
func (r *Runner) placeMissing(ctx context.Context, q domain.Quote, unit decimal.Decimal) error {
	r.mu.Lock()
	sandwich := r.sandwichRisk
	r.mu.Unlock()
	if sandwich {
		metrics.BlockedTradesTotal.WithLabelValues(r.account, "sandwich").Inc()
		r.logger.WarnContext(ctx, "placement skipped, sandwich risk active")
		return nil
	}

	size := r.cfg.OrderSizeBaseUnits
	prices := map[domain.OrderSide]decimal.Decimal{
		domain.OrderSideBuy:  q.BidPrice,
		domain.OrderSideSell: q.AskPrice,
	}
	for _, side := range [2]domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		if r.getOrder(side) != nil {
			continue
		}
		price := prices[side]

		inv := r.ledger.Get(r.account)
		if side == domain.OrderSideBuy {
			if need := r.quoteUnits(price, size); inv.QuoteUnits < need {
				r.logger.DebugContext(ctx, "skip bid, insufficient quote balance",
					slog.Int64("need", need),
					slog.Int64("have", inv.QuoteUnits),
				)
				continue
			}
		} else if inv.BaseUnits < size {
			r.logger.DebugContext(ctx, "skip ask, insufficient base balance",
				slog.Int64("need", size),
				slog.Int64("have", inv.BaseUnits),
			)
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		o, err := r.venue.PlaceOrder(ctx, r.account, side, price, size)
		if err != nil {
			r.breaker.RecordTradeResult(false)
			r.logger.WarnContext(ctx, "place failed",
				slog.String("side", string(side)),
				slog.String("price", price.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.breaker.RecordTradeResult(true)

		r.setOrder(side, &domain.PlacedOrder{
			ID:        o.ID,
			Side:      side,
			Price:     o.Price,
			BaseUnits: o.BaseUnits,
			CreatedAt: o.CreatedAt,
		})
		metrics.OrdersPlacedTotal.WithLabelValues(r.account, string(side)).Inc()
		r.logger.InfoContext(ctx, "order placed",
			slog.String("order_id", o.ID),
			slog.String("side", string(side)),
			slog.String("price", o.Price.String()),
			slog.Int64("base_units", o.BaseUnits),
		)
		r.recorder.Record(ctx, r.account, domain.AuditOrderPlaced, "quote refresh", map[string]string{
			"order_id":   o.ID,
			"side":       string(side),
			"price":      o.Price.String(),
			"base_units": strconv.FormatInt(o.BaseUnits, 10),
		})
	}
	return nil
}

func (r *Runner) getOrder(side domain.OrderSide) *domain.PlacedOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders.Get(side)
}

func (r *Runner) setOrder(side domain.OrderSide, o *domain.PlacedOrder) {
	r.mu.Lock()
	r.orders.Set(side, o)
	r.mu.Unlock()
}

// unitPrice converts the human price into quote atomic units per base
// atomic unit, folding in the decimals difference of the two assets.
func (r *Runner) unitPrice(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.New(1, int32(r.cfg.QuoteDecimals-r.cfg.BaseDecimals)))
}

// quoteUnits returns how many quote atomic units correspond to trading
// baseUnits at the given human price.
func (r *Runner) quoteUnits(price decimal.Decimal, baseUnits int64) int64 {
	return r.unitPrice(price).Mul(decimal.NewFromInt(baseUnits)).Round(0).IntPart()
}

// driftPct is the relative distance between a resting price and its fresh
// target, as a whole percentage.
func driftPct(order, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	d, _ := order.Sub(target).Abs().Div(target).Float64()
	return d * 100
}
