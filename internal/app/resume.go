package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/dexmaker/internal/breaker"
	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/lifecycle"
)

// superviseResume watches the circuit breaker and, once it has been open
// for the full cooldown, drives the gradual resume: all accounts are parked
// first, then released in batches as the breaker steps back to closed. A
// manual reset through the API closes the breaker directly and this loop
// simply keeps polling.
func (a *App) superviseResume(ctx context.Context, brk *breaker.Breaker, runners []*lifecycle.Runner) error {
	poll := a.cfg.Breaker.GradualResumeInterval.Duration
	if poll <= 0 || poll > 15*time.Second {
		poll = 15 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st := brk.Status()
		if st.State != domain.BreakerOpen {
			continue
		}
		if time.Since(st.TrippedAt) < a.cfg.Breaker.CooldownPeriod.Duration {
			continue
		}

		for _, r := range runners {
			r.SetResumeHold(true)
		}
		err := brk.GradualResume(ctx, func(step int) error {
			release := len(runners) * step / st.ResumeSteps
			if release > len(runners) {
				release = len(runners)
			}
			for i := 0; i < release; i++ {
				runners[i].SetResumeHold(false)
			}
			a.logger.InfoContext(ctx, "resume step released accounts",
				slog.Int("step", step),
				slog.Int("released", release),
				slog.Int("total", len(runners)),
			)
			return nil
		})
		// Whatever happened, clear the holds: a closed breaker means trading
		// resumes everywhere, a reopened one blocks at the safety gate.
		for _, r := range runners {
			r.SetResumeHold(false)
		}
		if err != nil {
			a.logger.WarnContext(ctx, "gradual resume did not complete",
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
