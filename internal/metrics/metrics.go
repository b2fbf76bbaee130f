// Package metrics provides Prometheus instrumentation for the market maker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OracleSamples tracks how many source samples survived the last
	// aggregation round.
	OracleSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dexmaker_oracle_samples",
		Help: "Price samples contributing to the last aggregation",
	})

	// OracleConfidence tracks the confidence of the last accepted price.
	OracleConfidence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dexmaker_oracle_confidence",
		Help: "Confidence of the last accepted aggregated price",
	})

	// BreakerState exposes the circuit breaker state (0=closed, 1=open,
	// 2=resuming).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dexmaker_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 open, 2 resuming",
	})

	// BreakerTripsTotal counts breaker trips by reason.
	BreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexmaker_breaker_trips_total",
		Help: "Total circuit breaker trips",
	}, []string{"reason"})

	// RiskScore exposes the latest rug-pull risk score per asset.
	RiskScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dexmaker_risk_score",
		Help: "Latest rug-pull risk score (0-100)",
	}, []string{"asset"})

	// OrdersPlacedTotal counts orders submitted, partitioned by side.
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexmaker_orders_placed_total",
		Help: "Total orders placed",
	}, []string{"account", "side"})

	// OrdersCancelledTotal counts stale-order cancellations.
	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexmaker_orders_cancelled_total",
		Help: "Total orders cancelled on price drift",
	}, []string{"account", "side"})

	// FillsTotal counts detected fills.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexmaker_fills_total",
		Help: "Total fills detected",
	}, []string{"account", "side"})

	// RebalancesTotal counts inventory rebalance orders.
	RebalancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexmaker_rebalances_total",
		Help: "Total rebalance market orders submitted",
	}, []string{"account"})

	// BlockedTradesTotal counts cycles skipped by a safety gate.
	BlockedTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexmaker_blocked_trades_total",
		Help: "Trading cycles blocked by breaker or rug-pull gates",
	}, []string{"account", "gate"})

	// InventoryRatio exposes each account's base/total value ratio.
	InventoryRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dexmaker_inventory_ratio",
		Help: "Fraction of account value held in the base asset",
	}, []string{"account"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
