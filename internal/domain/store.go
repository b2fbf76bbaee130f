package domain

import (
	"context"
	"time"
)

// AccountState bundles everything a restart needs to resume an account
// without re-deriving it from the chain.
type AccountState struct {
	Inventory Inventory
	Orders    OrderState
}

// StateStore is the durable persistence collaborator for per-account
// inventory and order state. LoadState returns ErrNotFound for an account
// that has never been saved.
type StateStore interface {
	LoadState(ctx context.Context, account string) (AccountState, error)
	SaveState(ctx context.Context, state AccountState) error
}

// AuditEvent is one recorded trading decision: a trip, halt, fill,
// rebalance, or quote action, with enough context to reconstruct it later.
type AuditEvent struct {
	ID        string
	Account   string
	Kind      AuditKind
	Reason    string
	Details   map[string]string
	CreatedAt time.Time
}

// AuditKind classifies audit events.
type AuditKind string

const (
	AuditBreakerTrip  AuditKind = "breaker_trip"
	AuditBreakerReset AuditKind = "breaker_reset"
	AuditResumeStep   AuditKind = "resume_step"
	AuditSafetyHalt   AuditKind = "safety_halt"
	AuditRugPullExit  AuditKind = "rugpull_exit"
	AuditOrderPlaced  AuditKind = "order_placed"
	AuditOrderCancel  AuditKind = "order_cancelled"
	AuditFill         AuditKind = "fill"
	AuditRebalance    AuditKind = "rebalance"
	AuditLoopHalted   AuditKind = "loop_halted"
)

// AuditStore is an append-only log of audit events. ListBefore and
// DeleteBefore exist so aged events can be archived to blob storage.
type AuditStore interface {
	Append(ctx context.Context, ev AuditEvent) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlobWriter stores an object in blob storage under the given key.
type BlobWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
