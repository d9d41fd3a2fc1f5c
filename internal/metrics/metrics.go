// Package metrics defines the Prometheus instrumentation for the watcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthRatio is the latest borrowed/supplied USD value ratio.
	HealthRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liqwatch",
		Name:      "health_ratio",
		Help:      "Borrowed value divided by supplied value in USD",
	})

	// PositionSupplied is the supplied balance in native token units.
	PositionSupplied = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liqwatch",
		Name:      "position_supplied_units",
		Help:      "Supplied amount in native supply-token units",
	})

	// PositionBorrowed is the borrowed balance in native token units.
	PositionBorrowed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liqwatch",
		Name:      "position_borrowed_units",
		Help:      "Borrowed amount in native borrow-token units",
	})

	// TokenPriceUSD is the latest cached unit price per tracked side.
	TokenPriceUSD = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "liqwatch",
		Name:      "token_price_usd",
		Help:      "Cached USD unit price of the tracked tokens",
	}, []string{"side"})

	// PricesStale is 1 while the cached pair is older than one refresh interval.
	PricesStale = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liqwatch",
		Name:      "prices_stale",
		Help:      "Whether the cached price pair is past its refresh interval (0/1)",
	})

	// EventsApplied counts accepted position mutations per event kind.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liqwatch",
		Name:      "events_applied_total",
		Help:      "Domain events applied to the tracked position",
	}, []string{"kind"})

	// EventsRejected counts events refused to protect state integrity.
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liqwatch",
		Name:      "events_rejected_total",
		Help:      "Domain events rejected (negative balance guard)",
	})

	// FeedReconnects counts subscription attempts that followed a failure.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liqwatch",
		Name:      "feed_reconnects_total",
		Help:      "Log feed reconnection attempts",
	})

	// AlertsTriggered counts Normal-to-Alerting threshold crossings.
	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liqwatch",
		Name:      "alerts_triggered_total",
		Help:      "Threshold crossings that produced a notification attempt",
	})
)
