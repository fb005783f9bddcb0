// Package metrics provides Prometheus collectors for cogito subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cogito"

var (
	// ProviderRequests counts provider calls by outcome.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency observes provider call latency in seconds.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider"},
	)

	// ProviderTokens counts tokens consumed per provider.
	ProviderTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total tokens consumed per provider and direction",
		},
		[]string{"provider", "direction"},
	)

	// QueueDepth tracks the number of items waiting per provider queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current queued items per provider",
		},
		[]string{"provider"},
	)

	// QueueRejected counts items rejected by deadline or backpressure.
	QueueRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Queue rejections by reason",
		},
		[]string{"provider", "reason"},
	)

	// CacheOperations counts cache lookups by type and result.
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache operations by cache type and result (hit, miss, set, evict)",
		},
		[]string{"type", "result"},
	)

	// CacheBytes tracks total bytes held in the memory tier.
	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Total bytes held by the in-memory cache tier",
		},
	)

	// MemoryItems tracks stored memory items by type.
	MemoryItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_items",
			Help:      "Stored memory items by type",
		},
		[]string{"type"},
	)

	// ThinkingProcesses counts finished thinking processes by status.
	ThinkingProcesses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thinking_processes_total",
			Help:      "Finished thinking processes by terminal status",
		},
		[]string{"status"},
	)

	// PipelineStageLatency observes per-stage latency in seconds.
	PipelineStageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"system", "stage"},
	)
)
