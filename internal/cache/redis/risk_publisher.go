package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/dexmaker/internal/domain"
)

// RiskPublisher implements domain.RiskPublisher. The latest assessment per
// asset is kept at "risk:{asset}" as JSON, and every assessment is also
// published on the "dexmaker:risk" channel for live consumers.
type RiskPublisher struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.RiskPublisher = (*RiskPublisher)(nil)

// riskChannel carries every published assessment.
const riskChannel = "dexmaker:risk"

// NewRiskPublisher creates a RiskPublisher backed by the given Client.
func NewRiskPublisher(c *Client, ttl time.Duration) *RiskPublisher {
	return &RiskPublisher{rdb: c.rdb, ttl: ttl}
}

func riskKey(asset string) string {
	return "risk:" + asset
}

// storedAssessment is the JSON shape of one assessment.
type storedAssessment struct {
	Asset      string    `json:"asset"`
	Level      string    `json:"level"`
	Score      float64   `json:"score"`
	Reasons    []string  `json:"reasons,omitempty"`
	ShouldExit bool      `json:"should_exit"`
	AssessedAt time.Time `json:"assessed_at"`
}

// Publish implements domain.RiskPublisher.
func (rp *RiskPublisher) Publish(ctx context.Context, ra domain.RiskAssessment) error {
	payload, err := json.Marshal(storedAssessment{
		Asset:      ra.Asset,
		Level:      string(ra.Level),
		Score:      ra.Score,
		Reasons:    ra.Reasons,
		ShouldExit: ra.ShouldExit,
		AssessedAt: ra.AssessedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal assessment %s: %w", ra.Asset, err)
	}

	pipe := rp.rdb.Pipeline()
	pipe.Set(ctx, riskKey(ra.Asset), payload, rp.ttl)
	pipe.Publish(ctx, riskChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish assessment %s: %w", ra.Asset, err)
	}
	return nil
}
