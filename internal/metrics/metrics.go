// Package metrics holds the Prometheus collectors shared by the provider
// clients and use cases.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_provider_calls_total",
			Help: "Total number of calls made to the text generation provider",
		},
		[]string{"provider", "operation", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_provider_call_duration_seconds",
			Help:    "Duration of text generation provider calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "operation"},
	)

	BriefRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_brief_requests_total",
			Help: "Total number of brief generation requests by result code",
		},
		[]string{"code"},
	)

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_chat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)
)

// ObserveProviderCall records the outcome and latency of one provider call.
func ObserveProviderCall(provider, operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ProviderCalls.WithLabelValues(provider, operation, outcome).Inc()
	ProviderLatency.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
