package rugpull

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/dexmaker/internal/audit"
	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/metrics"
)

// Monitor runs the scorer on a fixed interval per monitored asset and
// publishes read-only assessments. Account loops read the latest assessment
// synchronously through Latest; the per-asset timers are independent of the
// trading cycle.
type Monitor struct {
	scorer    *Scorer
	assets    []string
	interval  time.Duration
	publisher domain.RiskPublisher // optional
	recorder  *audit.Recorder
	logger    *slog.Logger

	mu     sync.RWMutex
	prev   map[string]domain.ChainSnapshot
	latest map[string]domain.RiskAssessment
}

// NewMonitor creates a Monitor for the given assets. publisher and recorder
// may be nil.
func NewMonitor(scorer *Scorer, assets []string, interval time.Duration, publisher domain.RiskPublisher, recorder *audit.Recorder, logger *slog.Logger) *Monitor {
	return &Monitor{
		scorer:    scorer,
		assets:    assets,
		interval:  interval,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger.With(slog.String("component", "rugpull_monitor")),
		prev:      make(map[string]domain.ChainSnapshot),
		latest:    make(map[string]domain.RiskAssessment),
	}
}

// Run blocks, re-assessing every monitored asset on each tick until the
// context is cancelled. The first tick fires immediately so accounts start
// with a baseline assessment.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "rug-pull monitor started",
		slog.String("assets", strings.Join(m.assets, ",")),
		slog.Duration("interval", m.interval),
	)
	defer m.logger.Info("rug-pull monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.assessAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.assessAll(ctx)
		}
	}
}

// Latest returns the most recent assessment for the asset. ok is false when
// the asset has not been assessed yet.
func (m *Monitor) Latest(asset string) (domain.RiskAssessment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ra, ok := m.latest[asset]
	return ra, ok
}

// Assessments returns a copy of all current assessments for status surfaces.
func (m *Monitor) Assessments() map[string]domain.RiskAssessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.RiskAssessment, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out
}

func (m *Monitor) assessAll(ctx context.Context) {
	for _, asset := range m.assets {
		m.assess(ctx, asset)
	}
}

func (m *Monitor) assess(ctx context.Context, asset string) {
	cur := m.scorer.Snapshot(ctx, asset)

	m.mu.Lock()
	prev := m.prev[asset]
	m.prev[asset] = cur
	m.mu.Unlock()

	ra := m.scorer.Score(prev, cur)

	m.mu.Lock()
	m.latest[asset] = ra
	m.mu.Unlock()

	metrics.RiskScore.WithLabelValues(asset).Set(ra.Score)
	m.logger.InfoContext(ctx, "risk assessed",
		slog.String("asset", asset),
		slog.Float64("score", ra.Score),
		slog.String("level", string(ra.Level)),
		slog.Bool("should_exit", ra.ShouldExit),
	)

	if ra.ShouldExit {
		m.recorder.Record(ctx, "", domain.AuditRugPullExit, strings.Join(ra.Reasons, "; "), map[string]string{
			"asset": asset,
			"score": fmt.Sprintf("%.1f", ra.Score),
			"level": string(ra.Level),
		})
	}

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, ra); err != nil {
			m.logger.WarnContext(ctx, "risk publish failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
}
