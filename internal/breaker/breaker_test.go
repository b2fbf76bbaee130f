package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/domain"
)

func testBreaker(cfg Config) *Breaker {
	if cfg.PriceDeviationPct == 0 {
		cfg.PriceDeviationPct = 10
	}
	if cfg.VolatilityPct == 0 {
		cfg.VolatilityPct = 1e9
	}
	if cfg.LossPct == 0 {
		cfg.LossPct = 5
	}
	if cfg.FailuresThreshold == 0 {
		cfg.FailuresThreshold = 5
	}
	if cfg.CooldownPeriod == 0 {
		cfg.CooldownPeriod = time.Hour
	}
	if cfg.GradualResumeSteps == 0 {
		cfg.GradualResumeSteps = 3
	}
	return New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCheckAndTrip_PriceDeviation(t *testing.T) {
	b := testBreaker(Config{})
	ctx := context.Background()

	b.RecordPrice(100)
	assert.False(t, b.CheckAndTrip(ctx))

	b.RecordPrice(120)
	assert.True(t, b.CheckAndTrip(ctx))
	assert.False(t, b.Allowed())

	st := b.Status()
	assert.Equal(t, domain.BreakerOpen, st.State)
	assert.Equal(t, domain.TripPriceDeviation, st.TripReason)
}

func TestCheckAndTrip_RunningLoss(t *testing.T) {
	b := testBreaker(Config{LossPct: 5})
	ctx := context.Background()

	b.RecordLoss(3)
	assert.False(t, b.CheckAndTrip(ctx))

	b.RecordLoss(2.5)
	assert.True(t, b.CheckAndTrip(ctx))
	assert.Equal(t, domain.TripLoss, b.Status().TripReason)
}

func TestRecordLoss_GainsReduceAndFloorAtZero(t *testing.T) {
	b := testBreaker(Config{LossPct: 5})
	ctx := context.Background()

	b.RecordLoss(4)
	b.RecordLoss(-10) // large gain floors the counter at zero
	b.RecordLoss(4)
	assert.False(t, b.CheckAndTrip(ctx))
}

func TestCheckAndTrip_ConsecutiveFailures(t *testing.T) {
	b := testBreaker(Config{FailuresThreshold: 3})
	ctx := context.Background()

	b.RecordTradeResult(false)
	b.RecordTradeResult(false)
	assert.False(t, b.CheckAndTrip(ctx))

	// A success resets the streak.
	b.RecordTradeResult(true)
	b.RecordTradeResult(false)
	b.RecordTradeResult(false)
	assert.False(t, b.CheckAndTrip(ctx))

	b.RecordTradeResult(false)
	assert.True(t, b.CheckAndTrip(ctx))
	assert.Equal(t, domain.TripFailures, b.Status().TripReason)
}

func TestTrip_Idempotent(t *testing.T) {
	b := testBreaker(Config{})
	ctx := context.Background()

	b.TripManual(ctx, "first")
	st := b.Status()

	b.TripManual(ctx, "second")
	assert.True(t, b.CheckAndTrip(ctx))

	after := b.Status()
	assert.Equal(t, st.TrippedAt, after.TrippedAt)
	assert.Equal(t, st.TripReason, after.TripReason)
}

func TestTryReset_EarlyIsNoOp(t *testing.T) {
	b := testBreaker(Config{CooldownPeriod: time.Hour})
	ctx := context.Background()

	b.TripManual(ctx, "test")
	assert.False(t, b.TryReset(ctx))
	assert.False(t, b.Allowed())
}

func TestTryReset_AfterCooldown(t *testing.T) {
	b := testBreaker(Config{CooldownPeriod: time.Millisecond})
	ctx := context.Background()

	b.TripManual(ctx, "test")
	time.Sleep(5 * time.Millisecond)

	assert.True(t, b.TryReset(ctx))
	assert.True(t, b.Allowed())
	assert.Equal(t, domain.BreakerClosed, b.Status().State)
}

func TestTryReset_ClosedReturnsTrue(t *testing.T) {
	b := testBreaker(Config{})
	assert.True(t, b.TryReset(context.Background()))
}

func TestGradualResume_StepsThenCloses(t *testing.T) {
	b := testBreaker(Config{
		CooldownPeriod:        time.Millisecond,
		GradualResumeSteps:    3,
		GradualResumeInterval: time.Millisecond,
	})
	ctx := context.Background()

	b.RecordTradeResult(false)
	b.TripManual(ctx, "test")
	time.Sleep(5 * time.Millisecond)

	var steps []int
	err := b.GradualResume(ctx, func(step int) error {
		steps = append(steps, step)
		if step == 2 {
			return errors.New("transient") // must not abort the sequence
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, steps)
	st := b.Status()
	assert.Equal(t, domain.BreakerClosed, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.True(t, b.Allowed())
}

func TestGradualResume_RequiresOpenAndCooldown(t *testing.T) {
	ctx := context.Background()

	closed := testBreaker(Config{})
	err := closed.GradualResume(ctx, func(int) error { return nil })
	assert.Error(t, err)

	early := testBreaker(Config{CooldownPeriod: time.Hour})
	early.TripManual(ctx, "test")
	err = early.GradualResume(ctx, func(int) error { return nil })
	assert.Error(t, err)
}

func TestVolatility_RequiresEnoughSamples(t *testing.T) {
	b := testBreaker(Config{HistorySize: 100})

	for i := 0; i < minVolatilitySamples-1; i++ {
		b.RecordPrice(100)
	}
	_, ok := b.Volatility()
	assert.False(t, ok)

	b.RecordPrice(100)
	vol, ok := b.Volatility()
	assert.True(t, ok)
	assert.Zero(t, vol) // constant prices carry no volatility
}

func TestCheckAndTrip_Volatility(t *testing.T) {
	b := testBreaker(Config{VolatilityPct: 50, PriceDeviationPct: 1e9, HistorySize: 100})
	ctx := context.Background()

	// Alternating prices produce large log returns and huge annualized vol.
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			b.RecordPrice(100)
		} else {
			b.RecordPrice(105)
		}
	}
	assert.True(t, b.CheckAndTrip(ctx))
	assert.Equal(t, domain.TripVolatility, b.Status().TripReason)
}

func TestRecordPrice_IgnoresGarbage(t *testing.T) {
	b := testBreaker(Config{})
	b.RecordPrice(0)
	b.RecordPrice(-5)

	b.RecordPrice(100)
	b.RecordPrice(101)
	// Only the two valid prices count; 1% move stays under the threshold.
	assert.False(t, b.CheckAndTrip(context.Background()))
}
