// Package prometheus implements es.Metrics on Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/evstore/core/metrics"
)

const namespace = "evstore"

// latencyBuckets spans 0.5ms to roughly 4s.
var latencyBuckets = prometheus.ExponentialBuckets(0.0005, 2, 14)

func observeSeconds(o prometheus.Observer) metrics.Timer {
	return metrics.NewTimer(func(d time.Duration) { o.Observe(d.Seconds()) })
}
