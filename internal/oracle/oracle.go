// Package oracle aggregates raw price estimates from multiple sources into a
// single trusted mid-price with outlier rejection, jump dampening, and
// last-known-price fallback.
package oracle

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/metrics"
)

// dampeningFactor is the fraction of a large move that is let through in a
// single tick. The remainder arrives on subsequent refreshes, giving the
// circuit breaker (which sees the undampened RawMid) a cycle to react.
const dampeningFactor = 0.2

// Config holds the aggregation parameters. Percentages are whole percents
// (10.0 = 10%).
type Config struct {
	MinSources          int
	MaxDeviationPct     float64
	DampeningTriggerPct float64
	FallbackSpreadPct   float64
	CacheTTL            time.Duration
	FetchTimeout        time.Duration
	// SourceConfidence maps source name to the confidence assigned to its
	// samples. Sources not listed default to 1.0.
	SourceConfidence map[string]float64
}

// Oracle fans out to all configured price sources and aggregates the results.
// It is safe for concurrent use by multiple account loops.
type Oracle struct {
	sources []domain.PriceSource
	cfg     Config
	mirror  domain.PriceCache // optional write-through mirror, may be nil
	logger  *slog.Logger

	mu          sync.Mutex
	last        *domain.AggregatedPrice // last accepted aggregate
	lastRefresh time.Time
}

// New creates an Oracle over the given sources. mirror may be nil; when set,
// every accepted price is written through to it on a best-effort basis.
func New(sources []domain.PriceSource, cfg Config, mirror domain.PriceCache, logger *slog.Logger) *Oracle {
	return &Oracle{
		sources: sources,
		cfg:     cfg,
		mirror:  mirror,
		logger:  logger.With(slog.String("component", "oracle")),
	}
}

// GetPrice returns the current aggregated price for the pair. A cached
// aggregate younger than CacheTTL is returned unless forceRefresh is set.
// The call is bounded by the per-source fetch timeout and never returns a
// non-finite or non-positive price. When fewer than MinSources sources
// respond, the last accepted price is re-issued as a fallback; if no prior
// price exists the call fails with domain.ErrInsufficientSources.
func (o *Oracle) GetPrice(ctx context.Context, pair domain.Pair, forceRefresh bool) (domain.AggregatedPrice, error) {
	o.mu.Lock()
	if !forceRefresh && o.last != nil && time.Since(o.lastRefresh) < o.cfg.CacheTTL {
		agg := *o.last
		o.mu.Unlock()
		return agg, nil
	}
	o.mu.Unlock()

	samples := o.collect(ctx, pair)
	metrics.OracleSamples.Set(float64(len(samples)))

	if len(samples) < o.cfg.MinSources {
		return o.fallback(ctx, pair, len(samples))
	}

	// Two-pass robust median: median of everything, drop outliers beyond
	// MaxDeviationPct of it, median of the survivors.
	first := medianPrice(samples)
	survivors := samples[:0:0]
	for _, s := range samples {
		if relDeviationPct(s.Price, first) <= o.cfg.MaxDeviationPct {
			survivors = append(survivors, s)
		} else {
			o.logger.DebugContext(ctx, "sample rejected as outlier",
				slog.String("source", s.SourceID),
				slog.String("price", s.Price.String()),
				slog.String("median", first.String()),
			)
		}
	}
	raw := medianPrice(survivors)

	accepted := raw
	o.mu.Lock()
	if o.last != nil {
		prev := o.last.MidPrice
		if dev := relDeviationPct(raw, prev); dev > o.cfg.DampeningTriggerPct {
			// Direction-preserving partial move: prev + 20% of (raw - prev).
			accepted = prev.Add(raw.Sub(prev).Mul(decimal.NewFromFloat(dampeningFactor)))
			o.logger.WarnContext(ctx, "large price jump dampened",
				slog.String("pair", pair.String()),
				slog.String("previous", prev.String()),
				slog.String("raw", raw.String()),
				slog.String("accepted", accepted.String()),
				slog.Float64("deviation_pct", dev),
			)
		}
	}
	agg := o.build(pair, accepted, raw, survivors, meanConfidence(survivors), false)
	o.last = &agg
	o.lastRefresh = time.Now()
	o.mu.Unlock()

	conf := agg.Confidence
	metrics.OracleConfidence.Set(conf)
	o.writeThrough(ctx, agg)
	return agg, nil
}

// Invalidate drops the cached aggregate so the next GetPrice refreshes.
func (o *Oracle) Invalidate() {
	o.mu.Lock()
	o.lastRefresh = time.Time{}
	o.mu.Unlock()
}

// collect queries all sources concurrently and keeps only successful,
// positive, finite results. A zero, negative, or non-finite price is treated
// as no result, never as a zero price.
func (o *Oracle) collect(ctx context.Context, pair domain.Pair) []domain.PriceSample {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		samples []domain.PriceSample
	)
	for _, src := range o.sources {
		wg.Add(1)
		go func(src domain.PriceSource) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
			defer cancel()

			price, ok, err := src.Fetch(fctx, pair)
			if err != nil {
				o.logger.WarnContext(ctx, "price source failed",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()),
				)
				return
			}
			if !ok || !price.IsPositive() {
				return
			}
			conf, ok := o.cfg.SourceConfidence[src.Name()]
			if !ok || conf <= 0 {
				conf = 1.0
			}
			mu.Lock()
			samples = append(samples, domain.PriceSample{
				Price:      price,
				SourceID:   src.Name(),
				Confidence: conf,
				ObservedAt: time.Now().UTC(),
			})
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return samples
}

// fallback re-issues the last accepted price with fallback confidence, or
// fails with ErrInsufficientSources when no prior price exists.
func (o *Oracle) fallback(ctx context.Context, pair domain.Pair, got int) (domain.AggregatedPrice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.last == nil {
		o.logger.ErrorContext(ctx, "no price available",
			slog.String("pair", pair.String()),
			slog.Int("sources_responded", got),
			slog.Int("min_sources", o.cfg.MinSources),
		)
		return domain.AggregatedPrice{}, domain.ErrInsufficientSources
	}

	conf := o.last.Confidence / 2
	if conf > 0.5 {
		conf = 0.5
	}
	agg := o.build(pair, o.last.MidPrice, o.last.RawMid, []domain.PriceSample{{
		Price:      o.last.MidPrice,
		SourceID:   "fallback",
		Confidence: conf,
		ObservedAt: time.Now().UTC(),
	}}, conf, true)

	o.logger.WarnContext(ctx, "using fallback price",
		slog.String("pair", pair.String()),
		slog.Int("sources_responded", got),
		slog.String("price", agg.MidPrice.String()),
		slog.Float64("confidence", conf),
	)
	o.last = &agg
	o.lastRefresh = time.Now()
	return agg, nil
}

// build synthesizes the bid/ask around the accepted mid using the configured
// fixed spread, preserving BestBid < MidPrice < BestAsk.
func (o *Oracle) build(pair domain.Pair, mid, raw decimal.Decimal, samples []domain.PriceSample, confidence float64, fb bool) domain.AggregatedPrice {
	half := decimal.NewFromFloat(o.cfg.FallbackSpreadPct / 100 / 2)
	return domain.AggregatedPrice{
		Pair:       pair,
		MidPrice:   mid,
		RawMid:     raw,
		BestBid:    mid.Mul(decimal.NewFromInt(1).Sub(half)),
		BestAsk:    mid.Mul(decimal.NewFromInt(1).Add(half)),
		Samples:    samples,
		Confidence: confidence,
		Fallback:   fb,
		ComputedAt: time.Now().UTC(),
	}
}

// writeThrough mirrors an accepted price to the shared cache. Failures are
// logged and ignored; the mirror is observability only.
func (o *Oracle) writeThrough(ctx context.Context, agg domain.AggregatedPrice) {
	if o.mirror == nil {
		return
	}
	if err := o.mirror.SetPrice(ctx, agg.Pair.String(), agg.MidPrice, agg.Confidence, agg.ComputedAt); err != nil {
		o.logger.WarnContext(ctx, "price mirror write failed",
			slog.String("pair", agg.Pair.String()),
			slog.String("error", err.Error()),
		)
	}
}

// medianPrice returns the median of the samples' prices. For an even count
// it averages the two middle values. The input is not modified.
func medianPrice(samples []domain.PriceSample) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	prices := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return prices[n/2-1].Add(prices[n/2]).Div(decimal.NewFromInt(2))
}

// relDeviationPct returns |a-b| / b as a whole percentage.
func relDeviationPct(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	dev, _ := a.Sub(b).Abs().Div(b.Abs()).Float64()
	return dev * 100
}

// meanConfidence averages the surviving samples' individual confidences.
func meanConfidence(samples []domain.PriceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Confidence
	}
	return sum / float64(len(samples))
}
