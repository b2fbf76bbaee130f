package domain

import "time"

// BreakerState is the circuit breaker's current position in its state machine.
type BreakerState string

const (
	// BreakerClosed means trading is allowed.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen means trading is halted until the cooldown elapses and a
	// reset or gradual resume is requested.
	BreakerOpen BreakerState = "open"
	// BreakerResuming means trading is being re-enabled step by step.
	BreakerResuming BreakerState = "resuming"
)

// TripReason identifies which condition opened the breaker.
type TripReason string

const (
	TripPriceDeviation TripReason = "price_deviation"
	TripVolatility     TripReason = "volatility"
	TripLoss           TripReason = "loss"
	TripFailures       TripReason = "consecutive_failures"
	TripManual         TripReason = "manual"
)

// BreakerStatus is a read-only snapshot of the breaker for status endpoints
// and per-account safety mirrors.
type BreakerStatus struct {
	State               BreakerState
	TripReason          TripReason
	TrippedAt           time.Time
	ConsecutiveFailures int
	ResumeStep          int
	ResumeSteps         int
}
