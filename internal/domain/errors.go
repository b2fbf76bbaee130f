package domain

import "errors"

var (
	// ErrInsufficientSources means the oracle could not produce any price:
	// too few sources responded and no prior price exists to fall back on.
	// Fatal for the cycle that observes it, retried on the next one.
	ErrInsufficientSources = errors.New("insufficient price sources")

	// ErrTradingHalted is the deliberate no-op outcome of a safety gate
	// (breaker open or rug-pull exit). It is expected, not an error state.
	ErrTradingHalted = errors.New("trading halted")

	// ErrInvariantViolation marks corrupted state (negative inventory, a
	// non-finite price reaching the quoting stage). The observing account
	// loop must halt itself rather than trade on it.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrNotFound    = errors.New("not found")
	ErrNoData      = errors.New("no data")
	ErrRateLimited = errors.New("rate limited")
)
