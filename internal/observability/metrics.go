package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clearing house.
type Metrics struct {
	// --- Settlement actions ---
	ActionsApplied  *prometheus.CounterVec
	ActionsRejected *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec

	// --- Exchange ---
	SwapQuoteVolume *prometheus.CounterVec
	FeesCollected   *prometheus.CounterVec
	TokensMinted    *prometheus.CounterVec
	TokensBurned    *prometheus.CounterVec
	PnlSettled      prometheus.Counter

	// --- Pool state ---
	PoolLiquidity    *prometheus.GaugeVec
	PoolTick         *prometheus.GaugeVec
	TickCrossings    *prometheus.CounterVec
	MarketsRegistered prometheus.Gauge

	// --- Vault ---
	VaultDeposits    prometheus.Counter
	VaultWithdrawals prometheus.Counter
	VaultRejections  *prometheus.CounterVec

	// --- Publish ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	PersistErrors    *prometheus.CounterVec

	// --- Query ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	actionBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		ActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_actions_applied_total",
			Help: "Settlement actions applied",
		}, []string{"action"}),

		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_actions_rejected_total",
			Help: "Settlement actions rejected and rolled back",
		}, []string{"action", "reason"}),

		ActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_action_duration_seconds",
			Help:    "Time to apply one settlement action",
			Buckets: actionBuckets,
		}, []string{"action"}),

		SwapQuoteVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_swap_quote_volume",
			Help: "Absolute quote volume swapped",
		}, []string{"market_id"}),

		FeesCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_fees_collected_quote",
			Help: "Quote-denominated fees charged to takers",
		}, []string{"market_id"}),

		TokensMinted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_tokens_minted_total",
			Help: "Virtual tokens minted on demand",
		}, []string{"market_id", "token"}),

		TokensBurned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_tokens_burned_total",
			Help: "Virtual tokens burned at reconciliation",
		}, []string{"market_id", "token"}),

		PnlSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_pnl_settled_total",
			Help: "Owed realized PnL settlements processed",
		}),

		PoolLiquidity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_pool_liquidity",
			Help: "In-range liquidity per pool (float approximation)",
		}, []string{"market_id"}),

		PoolTick: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_pool_tick",
			Help: "Current pool tick",
		}, []string{"market_id"}),

		TickCrossings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_tick_crossings_total",
			Help: "Initialized ticks crossed by swaps",
		}, []string{"market_id"}),

		MarketsRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_markets_registered",
			Help: "Markets registered on the exchange",
		}),

		VaultDeposits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_vault_deposits_total",
			Help: "Settlement token deposits",
		}),

		VaultWithdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_vault_withdrawals_total",
			Help: "Settlement token withdrawals",
		}),

		VaultRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vault_rejections_total",
			Help: "Vault operations rejected",
		}, []string{"reason"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_events_published_total",
			Help: "Domain events published to JetStream",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_snapshot_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_snapshot_duration_seconds",
			Help:    "Snapshot write time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}
