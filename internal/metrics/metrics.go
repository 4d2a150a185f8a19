package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine stage counters and histograms, partitioned by provider where a
// metric tracks upstream behaviour.

var (
	// Fetch client
	FetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "Total provider request attempts by outcome kind",
	}, []string{"provider", "status"})

	FetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "fetch",
		Name:      "retries_total",
		Help:      "Total retries scheduled after transient provider failures",
	}, []string{"provider", "kind"})

	KeyRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "fetch",
		Name:      "key_rotations_total",
		Help:      "Total credential rotations after authorization rejections",
	}, []string{"provider"})

	FetchBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "fetch",
		Name:      "breaker_rejections_total",
		Help:      "Total requests short-circuited by an open provider breaker",
	}, []string{"provider"})

	// Holder fetcher
	HolderPagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "holders",
		Name:      "pages_fetched_total",
		Help:      "Total holder listing pages fetched",
	}, []string{"provider", "asset_type"})

	HoldersFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "holders",
		Name:      "records_total",
		Help:      "Total holder records produced by the paginated fetcher",
	}, []string{"asset_type"})

	HolderScaleFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "holders",
		Name:      "scale_fallbacks_total",
		Help:      "Total malformed raw balances scaled via integer-division fallback",
	})

	// Identity resolver
	ResolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "resolver",
		Name:      "lookups_total",
		Help:      "Total identity lookups by source",
	}, []string{"source"})

	ResolverAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "resolver",
		Name:      "aborts_total",
		Help:      "Total batch resolutions aborted by upstream exhaustion",
	})

	// Scheduler
	SchedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Total pipeline runs by outcome",
	}, []string{"outcome"})

	SchedulerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "badges",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Full pipeline run duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Result sender
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "sender",
		Name:      "sends_total",
		Help:      "Total result submissions by status",
	}, []string{"status"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts sent per channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "badges",
		Subsystem: "alerts",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown per channel and type",
	}, []string{"channel", "type"})
)
