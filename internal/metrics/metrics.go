// Package metrics holds the Prometheus instruments of the parcel poller.
// All of them are registered with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parcelpoll"

// CyclesTotal counts finished poll cycles.
// Labels:
//   - kind: upstream kind ("structured" or "legacy")
//   - outcome: cycle outcome (e.g. "success", "rate_limit_exceeded")
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Total number of poll cycles, by upstream kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// UpstreamResponsesTotal counts upstream responses by status class ("2xx", "429", "5xx").
// Requests that produced no usable response are counted as "network" or "oversize";
// requests refused by the local request budget never reach the upstream and count as "budget".
var UpstreamResponsesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_responses_total",
		Help:      "Upstream responses seen by the transport, by status class.",
	},
	[]string{"kind", "class"},
)

// RateLimitWaitSeconds observes every in-cycle wait after a 429.
// Label:
//   - source: "retry_after" when the server hint was honoured, "backoff" otherwise
var RateLimitWaitSeconds = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds",
		Help:      "Time spent waiting before retrying a rate-limited request.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480, 750},
	},
	[]string{"source"},
)

// ActiveDeliveries is the number of non-delivered records after the last successful cycle.
var ActiveDeliveries = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_deliveries",
		Help:      "Non-delivered records in the latest snapshot.",
	},
	[]string{"session"},
)
