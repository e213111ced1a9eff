package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "savehub",
		Name:      "actions_total",
		Help:      "Applied mutation-queue actions by kind and outcome.",
	}, []string{"kind", "outcome"})

	metricQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "savehub",
		Name:      "action_queue_wait_seconds",
		Help:      "Time actions spent waiting behind the mutation queue.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	metricScanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "savehub",
		Name:      "library_scan_seconds",
		Help:      "Duration of full library scans.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
