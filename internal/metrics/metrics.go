package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the service's Prometheus instruments. Each instance owns
// its registry so tests can construct them independently.
type Metrics struct {
	registry *prometheus.Registry

	// VerifyTotal counts verification decisions by outcome ("allow"/"deny")
	// and reason ("ok", "unauthenticated", "forbidden", "unavailable").
	VerifyTotal *prometheus.CounterVec

	// VerifyDuration tracks end-to-end verification latency.
	VerifyDuration prometheus.Histogram

	// KeyOpsTotal counts management operations by op
	// ("create"/"list"/"toggle"/"delete").
	KeyOpsTotal *prometheus.CounterVec

	// SessionLoginsTotal counts login attempts by result ("ok"/"denied").
	SessionLoginsTotal *prometheus.CounterVec
}

// New creates a Metrics with a fresh registry including the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		VerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vk_verify_requests_total",
				Help: "Total number of verification decisions",
			},
			[]string{"outcome", "reason"},
		),
		VerifyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vk_verify_duration_seconds",
				Help:    "Verification request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		KeyOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vk_key_operations_total",
				Help: "Total number of key management operations",
			},
			[]string{"op"},
		),
		SessionLoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vk_session_logins_total",
				Help: "Total number of session login attempts",
			},
			[]string{"result"},
		),
	}
}

// ObserveVerify records one verification decision.
func (m *Metrics) ObserveVerify(outcome, reason string, took time.Duration) {
	m.VerifyTotal.WithLabelValues(outcome, reason).Inc()
	m.VerifyDuration.Observe(took.Seconds())
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
