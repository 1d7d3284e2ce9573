package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciler and RPC instrumentation. Identity labels are bounded by the
// configured watched set.

var (
	// Reconciler
	ReconcileCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "reconciler",
		Name:      "cycles_total",
		Help:      "Total reconcile cycles started",
	}, []string{"identity", "trigger"})

	ReconcileCycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "reconciler",
		Name:      "cycle_errors_total",
		Help:      "Total reconcile cycles that ended in failure",
	}, []string{"identity"})

	ReconcileCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forge",
		Subsystem: "reconciler",
		Name:      "cycle_duration_seconds",
		Help:      "Reconcile cycle duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"identity"})

	ReconcileTxProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "reconciler",
		Name:      "transactions_processed_total",
		Help:      "Total transactions decoded during reconcile cycles",
	}, []string{"identity"})

	ReconcileTxSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "reconciler",
		Name:      "transactions_skipped_total",
		Help:      "Transactions skipped as already known or missing metadata",
	}, []string{"identity", "reason"})

	ReconcileRecordsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "reconciler",
		Name:      "records_merged_total",
		Help:      "New activity records merged into logs",
	}, []string{"identity"})

	// Decoder
	DecoderEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "decoder",
		Name:      "events_total",
		Help:      "Decoded program events by classification",
	}, []string{"kind"})

	DecoderEventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "decoder",
		Name:      "event_errors_total",
		Help:      "Events dropped due to malformed payloads",
	})

	// Metadata enrichment
	MetadataLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "metadata",
		Name:      "lookups_total",
		Help:      "Metadata resolutions by outcome",
	}, []string{"outcome"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Alerts delivered to configured channels",
	}, []string{"type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "alerts",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by the cooldown window",
	}, []string{"type"})

	// RPC
	RPCCallErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "rpc",
		Name:      "errors_total",
		Help:      "Total ledger RPC call failures",
	})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forge",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "RPC calls delayed by the client-side rate limiter",
	})
)
