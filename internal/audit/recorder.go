// Package audit records trading decisions durably and publishes them for
// out-of-band consumers. Every trip, halt, fill, and rebalance goes through
// the Recorder so the decision can be reconstructed after the fact.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Channel is the event-bus channel audit events are published on.
const Channel = "dexmaker:events"

// Recorder appends audit events to the durable store and mirrors them onto
// the event bus. Both sinks are optional and best-effort: recording never
// fails the trading decision that produced the event.
type Recorder struct {
	store  domain.AuditStore
	bus    domain.EventBus
	logger *slog.Logger
}

// NewRecorder creates a Recorder. store and bus may each be nil.
func NewRecorder(store domain.AuditStore, bus domain.EventBus, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record persists and publishes one audit event.
func (r *Recorder) Record(ctx context.Context, account string, kind domain.AuditKind, reason string, details map[string]string) {
	if r == nil {
		return
	}
	ev := domain.AuditEvent{
		ID:        uuid.New().String(),
		Account:   account,
		Kind:      kind,
		Reason:    reason,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}

	if r.store != nil {
		if err := r.store.Append(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "audit append failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"id":         ev.ID,
			"account":    ev.Account,
			"kind":       string(ev.Kind),
			"reason":     ev.Reason,
			"details":    ev.Details,
			"created_at": ev.CreatedAt.Format(time.RFC3339Nano),
		})
		if err == nil {
			if pubErr := r.bus.Publish(ctx, Channel, payload); pubErr != nil {
				r.logger.WarnContext(ctx, "audit publish failed",
					slog.String("kind", string(kind)),
					slog.String("error", pubErr.Error()),
				)
			}
		}
	}
}
