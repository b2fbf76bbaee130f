package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Bridge subscribes to the audit event channel and forwards safety-relevant
// events to the Notifier. It runs out of band: trading loops publish and
// move on, so a slow Telegram API can never stall a cycle.
type Bridge struct {
	bus      domain.EventBus
	channel  string
	notifier *Notifier
	logger   *slog.Logger
}

// NewBridge creates a Bridge reading from the given pub/sub channel.
func NewBridge(bus domain.EventBus, channel string, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		channel:  channel,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run consumes events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	events, err := b.bus.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", b.channel, err)
	}
	b.logger.InfoContext(ctx, "notify bridge started", slog.String("channel", b.channel))
	defer b.logger.Info("notify bridge stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			b.handle(ctx, payload)
		}
	}
}

// wireEvent is the published JSON shape of an audit event.
type wireEvent struct {
	Account string            `json:"account,omitempty"`
	Kind    string            `json:"kind"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.WarnContext(ctx, "bad event payload", slog.String("error", err.Error()))
		return
	}

	title, ok := eventTitle(domain.AuditKind(ev.Kind))
	if !ok {
		return
	}
	if err := b.notifier.Notify(ctx, ev.Kind, title, formatMessage(ev)); err != nil {
		b.logger.WarnContext(ctx, "notify failed",
			slog.String("kind", ev.Kind),
			slog.String("error", err.Error()),
		)
	}
}

// eventTitle maps the audit kinds worth waking an operator for. Routine
// order traffic is excluded; the audit store keeps the full record.
func eventTitle(kind domain.AuditKind) (string, bool) {
	switch kind {
	case domain.AuditBreakerTrip:
		return "Circuit breaker tripped", true
	case domain.AuditBreakerReset:
		return "Circuit breaker reset", true
	case domain.AuditRugPullExit:
		return "Rug-pull exit", true
	case domain.AuditSafetyHalt:
		return "Trading halted", true
	case domain.AuditLoopHalted:
		return "Account loop halted", true
	default:
		return "", false
	}
}

func formatMessage(ev wireEvent) string {
	var sb strings.Builder
	if ev.Account != "" {
		fmt.Fprintf(&sb, "account: %s\n", ev.Account)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&sb, "reason: %s\n", ev.Reason)
	}

	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, ev.Details[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}
