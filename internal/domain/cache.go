package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache mirrors the oracle's accepted prices into shared storage for
// observability and other processes. It is write-through only: trading
// decisions never read it back.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price decimal.Decimal, confidence float64, ts time.Time) error
}

// RiskPublisher publishes read-only rug-pull assessments so that status
// surfaces and other processes can observe them. The in-process view comes
// from the monitor; this port is outbound only.
type RiskPublisher interface {
	Publish(ctx context.Context, ra RiskAssessment) error
}

// EventBus provides pub/sub delivery of serialized audit events to
// out-of-band consumers such as the notifier bridge.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
