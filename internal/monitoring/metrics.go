// Package monitoring - metrics.go provides operational counters.
//
// DESIGN: Lightweight in-memory counters for the /health and /status views,
// mirrored into Prometheus collectors served on /metrics:
//   - requests/successes:   Forwards started and finished with 2xx
//   - upstream_errors:      Non-2xx or transport failures
//   - streams:              Streaming forwards
//   - conversion_fallbacks: One-shot conversions that fell back to raw relay
//   - credential_exhausted: Requests rejected for lack of an eligible credential
package monitoring

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	requests            atomic.Int64
	successes           atomic.Int64
	upstreamErrors      atomic.Int64
	streams             atomic.Int64
	conversionFallbacks atomic.Int64
	credentialExhausted atomic.Int64

	registry  *prometheus.Registry
	forwards  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks prometheus.Counter
	exhausted prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsCollector creates a new metrics collector with its own Prometheus registry.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protocol_gateway",
			Name:      "forwards_total",
			Help:      "Forwarded requests by upstream type, outcome and stream flag.",
		}, []string{"upstream", "outcome", "stream"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "protocol_gateway",
			Name:      "forward_duration_seconds",
			Help:      "Time from request receipt to the last byte relayed.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"upstream"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protocol_gateway",
			Name:      "conversion_fallbacks_total",
			Help:      "One-shot responses relayed raw after a failed conversion.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protocol_gateway",
			Name:      "credential_exhausted_total",
			Help:      "Requests rejected because no credential was eligible.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protocol_gateway",
			Name:      "inflight_forwards",
			Help:      "Forwards currently in progress.",
		}),
	}
	mc.registry.MustRegister(mc.forwards, mc.latency, mc.fallbacks, mc.exhausted, mc.inflight)
	return mc
}

// BeginForward marks a forward as in flight. The returned func ends it.
func (mc *MetricsCollector) BeginForward(stream bool) func() {
	mc.requests.Add(1)
	if stream {
		mc.streams.Add(1)
	}
	mc.inflight.Inc()
	return mc.inflight.Dec
}

// RecordForward records a finished forward.
func (mc *MetricsCollector) RecordForward(upstream string, outcome Outcome, stream bool, latency time.Duration) {
	switch outcome {
	case OutcomeSuccess:
		mc.successes.Add(1)
	case OutcomeUpstreamError, OutcomeTransport:
		mc.upstreamErrors.Add(1)
	}
	streamLabel := "false"
	if stream {
		streamLabel = "true"
	}
	mc.forwards.WithLabelValues(upstream, string(outcome), streamLabel).Inc()
	mc.latency.WithLabelValues(upstream).Observe(latency.Seconds())
}

// RecordConversionFallback records a raw relay after a failed one-shot conversion.
func (mc *MetricsCollector) RecordConversionFallback() {
	mc.conversionFallbacks.Add(1)
	mc.fallbacks.Inc()
}

// RecordCredentialExhausted records a request rejected for lack of credentials.
func (mc *MetricsCollector) RecordCredentialExhausted() {
	mc.credentialExhausted.Add(1)
	mc.exhausted.Inc()
}

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":             mc.requests.Load(),
		"successes":            mc.successes.Load(),
		"upstream_errors":      mc.upstreamErrors.Load(),
		"streams":              mc.streams.Load(),
		"conversion_fallbacks": mc.conversionFallbacks.Load(),
		"credential_exhausted": mc.credentialExhausted.Load(),
	}
}

// Handler serves the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}
