// Package app assembles the market maker: it wires infrastructure, builds
// the decision components, and supervises the long-running goroutines.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/dexmaker/internal/audit"
	s3blob "github.com/quantfold/dexmaker/internal/blob/s3"
	"github.com/quantfold/dexmaker/internal/breaker"
	"github.com/quantfold/dexmaker/internal/chain"
	"github.com/quantfold/dexmaker/internal/config"
	"github.com/quantfold/dexmaker/internal/domain"
	"github.com/quantfold/dexmaker/internal/inventory"
	"github.com/quantfold/dexmaker/internal/lifecycle"
	"github.com/quantfold/dexmaker/internal/notify"
	"github.com/quantfold/dexmaker/internal/oracle"
	"github.com/quantfold/dexmaker/internal/quote"
	"github.com/quantfold/dexmaker/internal/rugpull"
	"github.com/quantfold/dexmaker/internal/server"
	"github.com/quantfold/dexmaker/internal/source"
	"github.com/quantfold/dexmaker/internal/venue"
)

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts every subsystem, and blocks until the
// context is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg
	pair := domain.Pair{Base: cfg.Pair.BaseAsset, Quote: cfg.Pair.QuoteAsset}

	a.logger.InfoContext(ctx, "starting market maker",
		slog.String("pair", pair.String()),
		slog.Int("accounts", len(cfg.Accounts)),
	)

	deps, cleanup, err := Wire(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer cleanup()

	recorder := audit.NewRecorder(deps.AuditStore, deps.EventBus, a.logger)

	// --- Price sources ---
	sources, streams, confidence := a.buildSources()
	defer func() {
		for _, s := range streams {
			_ = s.Close()
		}
	}()
	for _, s := range streams {
		if err := s.Connect(ctx); err != nil {
			// The source serves no data until its reconnect loop succeeds;
			// the oracle degrades to the remaining sources meanwhile.
			a.logger.WarnContext(ctx, "stream source connect failed",
				slog.String("source", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}

	orc := oracle.New(sources, oracle.Config{
		MinSources:          cfg.Oracle.MinSources,
		MaxDeviationPct:     cfg.Oracle.MaxDeviationPct,
		DampeningTriggerPct: cfg.Oracle.DampeningTriggerPct,
		FallbackSpreadPct:   cfg.Oracle.FallbackSpreadPct,
		CacheTTL:            cfg.Oracle.CacheTTL.Duration,
		FetchTimeout:        cfg.Oracle.FetchTimeout.Duration,
		SourceConfidence:    confidence,
	}, deps.PriceCache, a.logger)

	brk := breaker.New(breaker.Config{
		PriceDeviationPct:     cfg.Breaker.PriceDeviationPct,
		VolatilityPct:         cfg.Breaker.VolatilityPct,
		LossPct:               cfg.Breaker.LossPct,
		FailuresThreshold:     cfg.Breaker.FailuresThreshold,
		CooldownPeriod:        cfg.Breaker.CooldownPeriod.Duration,
		GradualResumeSteps:    cfg.Breaker.GradualResumeSteps,
		GradualResumeInterval: cfg.Breaker.GradualResumeInterval.Duration,
		HistorySize:           cfg.Breaker.HistorySize,
	}, recorder, a.logger)

	var monitor *rugpull.Monitor
	if cfg.RugPull.Enabled {
		chainClient := chain.NewClient(cfg.Chain.BaseURL, cfg.Chain.APIKey, cfg.Chain.Timeout.Duration)
		scorer := rugpull.NewScorer(chainClient, cfg.RugPull.AutoExit, cfg.RugPull.TopHoldersLimit, a.logger)
		monitor = rugpull.NewMonitor(scorer, []string{pair.Base}, cfg.RugPull.CheckInterval.Duration,
			deps.RiskPublisher, recorder, a.logger)
	}

	ledger := inventory.NewLedger(a.logger)
	quoter := quote.NewEngine(quote.Config{
		BaseSpreadPct:   cfg.Quoting.BaseSpreadPct,
		MinSpreadPct:    cfg.Quoting.MinSpreadPct,
		MaxSpreadPct:    cfg.Quoting.MaxSpreadPct,
		VolatilityCoeff: cfg.Quoting.VolatilityCoeff,
		TargetRatio:     cfg.Quoting.TargetRatio,
		SkewTolerance:   cfg.Quoting.SkewTolerance,
		SkewMultiplier:  cfg.Quoting.SkewMultiplier,
		MinProfitBps:    cfg.Quoting.MinProfitBps,
		RoundTripFeeBps: cfg.Quoting.RoundTripFeeBps,
	})
	venueClient := venue.NewClient(cfg.Venue.BaseURL, cfg.Venue.APIKey, pair, cfg.Venue.Timeout.Duration)

	lcCfg := lifecycle.Config{
		Pair:               pair,
		BaseDecimals:       cfg.Pair.BaseDecimals,
		QuoteDecimals:      cfg.Pair.QuoteDecimals,
		RefreshInterval:    cfg.Lifecycle.RefreshInterval.Duration,
		ErrorBackoff:       cfg.Lifecycle.ErrorBackoff.Duration,
		MinOrderInterval:   cfg.Lifecycle.MinOrderInterval.Duration,
		OrderSizeBaseUnits: cfg.Lifecycle.OrderSizeBaseUnits,
		DriftTolerancePct:  cfg.Lifecycle.DriftTolerancePct,
		RebalanceThreshold: cfg.Lifecycle.RebalanceThreshold,
		RebalanceFraction:  cfg.Lifecycle.RebalanceFraction,
		MinRebalanceValue:  cfg.Lifecycle.MinRebalanceValue,
		MaxSlippageBps:     cfg.Lifecycle.MaxSlippageBps,
		TargetRatio:        cfg.Quoting.TargetRatio,
	}

	runners := make([]*lifecycle.Runner, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		var risk lifecycle.RiskReader
		if monitor != nil {
			risk = monitor
		}
		runners = append(runners, lifecycle.NewRunner(
			account, lcCfg, orc, brk, risk, ledger, quoter, venueClient,
			deps.StateStore, recorder, a.logger,
		))
	}

	// --- Supervision ---
	g, ctx := errgroup.WithContext(ctx)

	for _, r := range runners {
		g.Go(func() error {
			err := r.Run(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case errors.Is(err, domain.ErrInvariantViolation):
				// One halted account must not take the fleet down.
				a.logger.ErrorContext(ctx, "account permanently halted",
					slog.String("account", r.Account()),
					slog.String("error", err.Error()),
				)
				return nil
			default:
				return err
			}
		})
	}

	if monitor != nil {
		g.Go(func() error { return ignoreCancel(monitor.Run(ctx)) })
	}

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Port:   cfg.Server.Port,
			APIKey: cfg.Server.APIKey,
		}, brk, orc, monitor, ledger, runners, a.logger)
		g.Go(func() error { return ignoreCancel(srv.Start(ctx)) })
	}

	if cfg.Archive.Enabled && deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(
			deps.BlobWriter,
			deps.AuditStore,
			time.Duration(cfg.Archive.RetentionDays)*24*time.Hour,
			cfg.Archive.Interval.Duration,
			1000,
			a.logger,
		)
		g.Go(func() error { return ignoreCancel(archiver.Run(ctx)) })
	}

	if deps.EventBus != nil {
		bridge := notify.NewBridge(deps.EventBus, audit.Channel, deps.Notifier, a.logger)
		g.Go(func() error { return ignoreCancel(bridge.Run(ctx)) })
	}

	g.Go(func() error { return ignoreCancel(a.superviseResume(ctx, brk, runners)) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.Info("market maker stopped")
	return nil
}

// buildSources constructs the configured price source adapters and the
// per-source confidence map.
func (a *App) buildSources() ([]domain.PriceSource, []*source.StreamSource, map[string]float64) {
	var (
		sources    []domain.PriceSource
		streams    []*source.StreamSource
		confidence = make(map[string]float64)
	)
	for _, sc := range a.cfg.Sources {
		if sc.Confidence > 0 {
			confidence[sc.Name] = sc.Confidence
		}
		switch sc.Kind {
		case "quote":
			sources = append(sources, source.NewQuoteSource(sc.Name, sc.URL, sc.APIKey, sc.Timeout.Duration))
		case "index":
			sources = append(sources, source.NewIndexSource(sc.Name, sc.URL, sc.APIKey, sc.Timeout.Duration))
		case "ws":
			maxAge := 2 * a.cfg.Oracle.CacheTTL.Duration
			s := source.NewStreamSource(sc.Name, sc.URL, maxAge, a.logger)
			streams = append(streams, s)
			sources = append(sources, s)
		}
	}
	return sources, streams, confidence
}

// ignoreCancel maps context cancellation to a clean nil so an orderly
// shutdown is not reported as a subsystem failure.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
