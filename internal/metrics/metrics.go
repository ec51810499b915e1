package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks receive outcomes per endpoint
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_messages_processed_total",
			Help: "Total number of received messages by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// ImmediateRetries tracks in-place retries
	ImmediateRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_immediate_retries_total",
			Help: "Total number of immediate retries",
		},
		[]string{"endpoint"},
	)

	// DelayedRetries tracks messages rescheduled for later delivery
	DelayedRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_delayed_retries_total",
			Help: "Total number of delayed retries scheduled",
		},
		[]string{"endpoint", "route"},
	)

	// MessagesFaulted tracks messages moved to the error queue
	MessagesFaulted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_messages_faulted_total",
			Help: "Total number of messages moved to the error queue",
		},
		[]string{"endpoint"},
	)

	// MessagesReclaimed tracks in-flight messages returned to their queue after the lease expired
	MessagesReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_messages_reclaimed_total",
			Help: "Total number of abandoned in-flight messages returned to their queue",
		},
		[]string{"address"},
	)

	// RetryDelay tracks the delays chosen by the delayed retry policy
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redeliver_retry_delay_seconds",
			Help:    "Delay applied to delayed retries in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"endpoint"},
	)

	// NotificationHandlerErrors tracks subscriber failures on the notification bus
	NotificationHandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redeliver_notification_handler_errors_total",
			Help: "Total number of notification handler failures",
		},
		[]string{"event"},
	)

	// TimeoutsStored tracks messages parked by the timeout relay
	TimeoutsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redeliver_timeouts_stored_total",
			Help: "Total number of timeouts stored by the relay",
		},
	)

	// TimeoutsDispatched tracks timeouts released to their destination
	TimeoutsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redeliver_timeouts_dispatched_total",
			Help: "Total number of timeouts dispatched by the relay",
		},
	)

	// TimeoutsPending tracks the timeout store backlog
	TimeoutsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redeliver_timeouts_pending",
			Help: "Number of timeouts waiting in the store",
		},
	)

	// FailureCacheSize tracks satellite failure tracking entries
	FailureCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redeliver_failure_cache_size",
			Help: "Number of message identities tracked by a failure cache",
		},
		[]string{"channel"},
	)

	// CriticalErrorsTotal tracks raised critical errors
	CriticalErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redeliver_critical_errors_total",
			Help: "Total number of critical errors raised",
		},
	)

	// DispatchLatency tracks transport dispatch latency
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redeliver_dispatch_latency_seconds",
			Help:    "Transport dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	// DBConnectionPoolUsage tracks database pool utilisation
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redeliver_db_connection_pool_usage_percent",
			Help: "Percentage of open database connections relative to the pool limit",
		},
	)
)
