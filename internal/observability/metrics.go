package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the billing API.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	quotations      *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	emails          *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and billing collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	quotations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_billing_quotation_transitions_total",
		Help: "Quotation lifecycle transitions.",
	}, []string{"transition"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_billing_invoice_events_total",
		Help: "Invoice lifecycle events.",
	}, []string{"event"})
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_billing_emails_total",
		Help: "Client notification outcomes by template key.",
	}, []string{"template", "outcome"})
	registry.MustRegister(requests, duration, quotations, invoices, emails)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		quotations:      quotations,
		invoices:        invoices,
		emails:          emails,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveQuotation counts a quotation transition (created, approved, ...).
func (m *Metrics) ObserveQuotation(transition string) {
	if m == nil {
		return
	}
	m.quotations.WithLabelValues(transition).Inc()
}

// ObserveInvoice counts an invoice event (generated, sent, paid, ...).
func (m *Metrics) ObserveInvoice(event string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(event).Inc()
}

// ObserveEmail counts a notification outcome.
func (m *Metrics) ObserveEmail(templateKey, outcome string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(templateKey, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
