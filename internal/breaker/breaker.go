// Package breaker implements the shared trading circuit breaker: a small
// mutex-guarded state machine fed by price history, running loss, and trade
// failure counts. Every account loop reads it; only atomic transition
// operations are exposed, so concurrent detection across loops cannot
// corrupt state.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/quantfold/dexmaker/internal/audit"
	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/metrics"
)

// annualizationFactor converts per-observation volatility of log returns to
// annualized volatility, assuming daily observations.
var annualizationFactor = math.Sqrt(252)

// minVolatilitySamples is how many prices the history must hold before the
// volatility trip condition is evaluated.
const minVolatilitySamples = 10

// Config holds trip thresholds and resume pacing. Percentages are whole
// percents.
type Config struct {
	PriceDeviationPct     float64
	VolatilityPct         float64
	LossPct               float64
	FailuresThreshold     int
	CooldownPeriod        time.Duration
	GradualResumeSteps    int
	GradualResumeInterval time.Duration
	HistorySize           int
}

// Breaker is the circuit breaker. The zero value is not usable; construct
// with New. All methods are safe for concurrent use.
type Breaker struct {
	cfg      Config
	logger   *slog.Logger
	recorder *audit.Recorder

	mu                  sync.Mutex
	state               domain.BreakerState
	tripReason          domain.TripReason
	trippedAt           time.Time
	consecutiveFailures int
	resumeStep          int
	runningLossPct      float64

	// history is a bounded ring of observed prices, newest last.
	history []float64
	head    int
	filled  bool
}

// New creates a closed Breaker. recorder may be nil.
func New(cfg Config, recorder *audit.Recorder, logger *slog.Logger) *Breaker {
	if cfg.HistorySize < 2 {
		cfg.HistorySize = 100
	}
	return &Breaker{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "breaker")),
		recorder: recorder,
		state:    domain.BreakerClosed,
		history:  make([]float64, cfg.HistorySize),
	}
}

// RecordPrice pushes an observed price into the bounded history ring. The
// caller feeds it the oracle's undampened median each cycle.
func (b *Breaker) RecordPrice(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	b.mu.Lock()
	b.history[b.head] = price
	b.head = (b.head + 1) % len(b.history)
	if b.head == 0 {
		b.filled = true
	}
	b.mu.Unlock()
}

// RecordTradeResult reports the outcome of one trade attempt. Failures
// increment the consecutive-failure counter; any success resets it to zero.
func (b *Breaker) RecordTradeResult(success bool) {
	b.mu.Lock()
	if success {
		b.consecutiveFailures = 0
	} else {
		b.consecutiveFailures++
	}
	b.mu.Unlock()
}

// RecordLoss accumulates realized loss as a percentage of account value.
// Gains reduce the running loss, floored at zero.
func (b *Breaker) RecordLoss(pct float64) {
	b.mu.Lock()
	b.runningLossPct += pct
	if b.runningLossPct < 0 {
		b.runningLossPct = 0
	}
	b.mu.Unlock()
}

// Allowed reports whether trading may proceed. Resuming counts as allowed;
// the per-step callback decides which accounts are re-enabled.
func (b *Breaker) Allowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != domain.BreakerOpen
}

// Volatility returns the current annualized volatility of the price history
// as a whole percentage. ok is false while the history holds too few
// samples for a meaningful estimate.
func (b *Breaker) Volatility() (pct float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volatilityLocked()
}

// Status returns a read-only snapshot of the breaker.
func (b *Breaker) Status() domain.BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BreakerStatus{
		State:               b.state,
		TripReason:          b.tripReason,
		TrippedAt:           b.trippedAt,
		ConsecutiveFailures: b.consecutiveFailures,
		ResumeStep:          b.resumeStep,
		ResumeSteps:         b.cfg.GradualResumeSteps,
	}
}

// CheckAndTrip evaluates all trip conditions in order and opens the breaker
// on the first match. Tripping an already-open breaker is a no-op that
// leaves trippedAt and tripReason unchanged. It returns true when the
// breaker is open after the call.
func (b *Breaker) CheckAndTrip(ctx context.Context) bool {
	b.mu.Lock()
	if b.state == domain.BreakerOpen {
		b.mu.Unlock()
		return true
	}

	if reason, detail, ok := b.checkLocked(); ok {
		b.tripLocked(ctx, reason, detail)
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()
	return false
}

// TripManual opens the breaker immediately. A no-op when already open.
func (b *Breaker) TripManual(ctx context.Context, why string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == domain.BreakerOpen {
		return
	}
	b.tripLocked(ctx, domain.TripManual, why)
}

// checkLocked evaluates the automatic trip conditions, first match wins.
func (b *Breaker) checkLocked() (domain.TripReason, string, bool) {
	// (a) single-tick price deviation vs. the previous observation.
	if last, prev, ok := b.lastTwoLocked(); ok && prev > 0 {
		changePct := math.Abs(last-prev) / prev * 100
		if changePct > b.cfg.PriceDeviationPct {
			return domain.TripPriceDeviation,
				fmt.Sprintf("price moved %.2f%% (threshold %.2f%%)", changePct, b.cfg.PriceDeviationPct), true
		}
	}

	// (b) annualized volatility over the rolling window.
	if vol, ok := b.volatilityLocked(); ok && vol > b.cfg.VolatilityPct {
		return domain.TripVolatility,
			fmt.Sprintf("annualized volatility %.2f%% (threshold %.2f%%)", vol, b.cfg.VolatilityPct), true
	}

	// (c) running loss.
	if b.runningLossPct > b.cfg.LossPct {
		return domain.TripLoss,
			fmt.Sprintf("running loss %.2f%% (threshold %.2f%%)", b.runningLossPct, b.cfg.LossPct), true
	}

	// (d) consecutive trade failures.
	if b.consecutiveFailures >= b.cfg.FailuresThreshold {
		return domain.TripFailures,
			fmt.Sprintf("%d consecutive failures (threshold %d)", b.consecutiveFailures, b.cfg.FailuresThreshold), true
	}

	return "", "", false
}

func (b *Breaker) tripLocked(ctx context.Context, reason domain.TripReason, detail string) {
	b.state = domain.BreakerOpen
	b.tripReason = reason
	b.trippedAt = time.Now().UTC()
	b.resumeStep = 0

	metrics.BreakerState.Set(1)
	metrics.BreakerTripsTotal.WithLabelValues(string(reason)).Inc()
	b.logger.ErrorContext(ctx, "circuit breaker tripped",
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
		slog.Duration("cooldown", b.cfg.CooldownPeriod),
	)
	b.recorder.Record(ctx, "", domain.AuditBreakerTrip, string(reason), map[string]string{
		"detail": detail,
	})
}

// TryReset closes an open breaker once the cooldown has elapsed, clearing
// failure and resume counters. Calling it early is a logged no-op. It
// returns true when the breaker is closed after the call.
func (b *Breaker) TryReset(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		return true
	case domain.BreakerResuming:
		return false
	}

	if elapsed := time.Since(b.trippedAt); elapsed < b.cfg.CooldownPeriod {
		b.logger.InfoContext(ctx, "reset ignored, cooldown not elapsed",
			slog.Duration("elapsed", elapsed),
			slog.Duration("cooldown", b.cfg.CooldownPeriod),
		)
		return false
	}

	b.closeLocked(ctx, "manual reset")
	return true
}

// GradualResume steps trading back on after the cooldown. It invokes stepFn
// once per resume step, sleeping the configured interval between steps. A
// failing step is logged and does not abort the sequence. After the final
// step the breaker closes and counters clear. It returns an error when the
// breaker is not open, the cooldown has not elapsed, or the context ends.
func (b *Breaker) GradualResume(ctx context.Context, stepFn func(step int) error) error {
	b.mu.Lock()
	if b.state != domain.BreakerOpen {
		b.mu.Unlock()
		return fmt.Errorf("breaker: gradual resume requires open state, is %s", b.state)
	}
	if elapsed := time.Since(b.trippedAt); elapsed < b.cfg.CooldownPeriod {
		b.mu.Unlock()
		return fmt.Errorf("breaker: cooldown not elapsed (%s of %s)", elapsed, b.cfg.CooldownPeriod)
	}
	b.state = domain.BreakerResuming
	b.resumeStep = 0
	steps := b.cfg.GradualResumeSteps
	b.mu.Unlock()

	metrics.BreakerState.Set(2)
	b.logger.InfoContext(ctx, "gradual resume started",
		slog.Int("steps", steps),
		slog.Duration("interval", b.cfg.GradualResumeInterval),
	)

	for step := 1; step <= steps; step++ {
		if step > 1 {
			timer := time.NewTimer(b.cfg.GradualResumeInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("breaker: gradual resume interrupted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		if err := stepFn(step); err != nil {
			b.logger.WarnContext(ctx, "resume step failed, continuing",
				slog.Int("step", step),
				slog.String("error", err.Error()),
			)
		}
		b.mu.Lock()
		b.resumeStep = step
		b.mu.Unlock()
		b.recorder.Record(ctx, "", domain.AuditResumeStep, "gradual resume", map[string]string{
			"step": fmt.Sprintf("%d/%d", step, steps),
		})
	}

	b.mu.Lock()
	b.closeLocked(ctx, "gradual resume complete")
	b.mu.Unlock()
	return nil
}

// closeLocked transitions to Closed and clears counters.
func (b *Breaker) closeLocked(ctx context.Context, why string) {
	b.state = domain.BreakerClosed
	b.tripReason = ""
	b.consecutiveFailures = 0
	b.resumeStep = 0
	b.runningLossPct = 0

	metrics.BreakerState.Set(0)
	b.logger.InfoContext(ctx, "circuit breaker closed", slog.String("reason", why))
	b.recorder.Record(ctx, "", domain.AuditBreakerReset, why, nil)
}

// lastTwoLocked returns the two most recent prices, newest first.
func (b *Breaker) lastTwoLocked() (last, prev float64, ok bool) {
	n := b.countLocked()
	if n < 2 {
		return 0, 0, false
	}
	size := len(b.history)
	last = b.history[(b.head-1+size)%size]
	prev = b.history[(b.head-2+size)%size]
	return last, prev, true
}

// volatilityLocked computes annualized volatility (percent) from the stddev
// of log returns over the whole history window.
func (b *Breaker) volatilityLocked() (float64, bool) {
	prices := b.snapshotLocked()
	if len(prices) < minVolatilitySamples {
		return 0, false
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			returns = append(returns, math.Log(prices[i]/prices[i-1]))
		}
	}
	if len(returns) < 2 {
		return 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * annualizationFactor * 100, true
}

// snapshotLocked returns the history in chronological order.
func (b *Breaker) snapshotLocked() []float64 {
	size := len(b.history)
	if !b.filled {
		out := make([]float64, b.head)
		copy(out, b.history[:b.head])
		return out
	}
	out := make([]float64, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, b.history[(b.head+i)%size])
	}
	return out
}

// countLocked returns how many prices the ring currently holds.
func (b *Breaker) countLocked() int {
	if b.filled {
		return len(b.history)
	}
	return b.head
}
