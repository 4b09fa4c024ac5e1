// Package metrics holds the Prometheus collectors of the API server. Every
// method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "itera"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	promptFallbacks  *prometheus.CounterVec
	meshJobs         *prometheus.CounterVec
	proxyFetches     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	rateLimitRejects prometheus.Counter
}

// New registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls partitioned by capability, provider and outcome.",
		}, []string{"capability", "provider", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of provider calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"capability", "provider"}),
		promptFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_fallbacks_total",
			Help:      "Brief and merge calls answered by the deterministic fallback.",
		}, []string{"operation", "reason"}),
		meshJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mesh_jobs_submitted_total",
			Help:      "Mesh jobs accepted by a provider.",
		}, []string{"provider"}),
		proxyFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_fetches_total",
			Help:      "Proxy fetches partitioned by outcome.",
		}, []string{"outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests partitioned by route pattern and status class.",
		}, []string{"route", "status"}),
		rateLimitRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveProviderCall records one provider call.
func (m *Metrics) ObserveProviderCall(capability, provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.providerCalls.WithLabelValues(capability, provider, outcome).Inc()
	m.providerLatency.WithLabelValues(capability, provider).Observe(time.Since(started).Seconds())
}

func (m *Metrics) PromptFallback(operation, reason string) {
	if m == nil {
		return
	}
	m.promptFallbacks.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) MeshJobSubmitted(provider string) {
	if m == nil {
		return
	}
	m.meshJobs.WithLabelValues(provider).Inc()
}

func (m *Metrics) ProxyFetch(outcome string) {
	if m == nil {
		return
	}
	m.proxyFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitRejects.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
