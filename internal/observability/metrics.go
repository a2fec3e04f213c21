package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	HoldCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_hold_commands_total",
			Help: "Hold lifecycle commands by operation and result kind",
		},
		[]string{"op", "kind"},
	)

	HoldCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bh_hold_command_seconds",
			Help:    "Duration of hold lifecycle commands including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	HoldConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_hold_conflicts_total",
			Help: "Commands re-run after a serialization failure",
		},
		[]string{"op"},
	)

	HoldsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_holds_expired_total",
			Help: "Holds moved to EXPIRED, by the path that noticed",
		},
		[]string{"source"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_expiry_sweeps_total",
			Help: "Expiry sweeps by result",
		},
		[]string{"result"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bh_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bh_outbox_lag_seconds",
			Help: "Age of the oldest event relayed in the last batch",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_outbox_published_total",
			Help: "Outbox events relayed to the broker",
		},
		[]string{"broker", "result"},
	)

	PublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bh_publish_retries_total",
			Help: "Total broker publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bh_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	SnapshotCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bh_snapshot_cache_total",
			Help: "Snapshot cache lookups by result",
		},
		[]string{"result"},
	)
)
