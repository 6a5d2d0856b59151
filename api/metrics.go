package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// endpointCounters is a per-endpoint slice of Prometheus instruments,
// in the spirit of boulder's metrics/scope.go request-scoped counters,
// adapted to client_golang's direct registration style since the spec
// has no internal RPC boundary to scope metrics names by.
type endpointCounters struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newEndpointCounters(reg prometheus.Registerer, name string) *endpointCounters {
	c := &endpointCounters{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nivlheim",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests handled, by endpoint and status code.",
			ConstLabels: prometheus.Labels{
				"endpoint": name,
			},
		}, []string{"status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nivlheim",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request latency, by endpoint.",
			ConstLabels: prometheus.Labels{
				"endpoint": name,
			},
		}, []string{"status"}),
	}
	reg.MustRegister(c.requests, c.latency)
	return c
}

func (c *endpointCounters) observe(status int, d time.Duration) {
	label := strconv.Itoa(status)
	c.requests.WithLabelValues(label).Inc()
	c.latency.WithLabelValues(label).Observe(d.Seconds())
}

// IngestOutcomeCounters tracks ingestion outcomes (SPEC_FULL.md §C.5):
// suppressed, inserted, and skipped count files; failed counts archives.
type IngestOutcomeCounters struct {
	outcomes *prometheus.CounterVec
}

// NewIngestOutcomeCounters builds the ingest.Reporter this package
// exposes to the ingest worker, registered on the same registry the
// HTTP endpoint counters use so /metrics serves both.
func NewIngestOutcomeCounters(reg prometheus.Registerer) *IngestOutcomeCounters {
	c := &IngestOutcomeCounters{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nivlheim",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Files processed during archive ingestion, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.outcomes)
	return c
}

// Observe implements ingest.Reporter.
func (c *IngestOutcomeCounters) Observe(outcome string, n int) {
	c.outcomes.WithLabelValues(outcome).Add(float64(n))
}
