// Package metrics 索引器的 prometheus 指标，通过 /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "openbook_indexer"

var (
	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transactions handled by the processor, by result (indexed, no_events, skipped, error, duplicate)",
	}, []string{"result"})

	EventsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Trade events appended to the store",
	}, []string{"type", "confidence"})

	ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "process_duration_seconds",
		Help:      "Time spent fetching and decoding one transaction",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	MarketsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "markets",
		Help:      "Markets currently in the registry",
	})

	NewMarketsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "new_markets_total",
		Help:      "Markets announced by account-change detection",
	})

	Resubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resubscribes_total",
		Help:      "Subscriptions re-established after the stream ended",
	}, []string{"stream"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Failures writing events to optional sinks",
	}, []string{"sink"})

	LastSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_slot",
		Help:      "Highest slot seen in a processed transaction",
	})

	ChainSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_slot",
		Help:      "Latest slot reported by the RPC node",
	})

	SlotLag = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "slot_lag",
		Help:      "Chain slot minus the highest processed slot",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Query API requests by route and status code",
	}, []string{"route", "code"})
)
