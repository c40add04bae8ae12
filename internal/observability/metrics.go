package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus series exposed by the API process.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	paymentsTotal    *prometheus.CounterVec
	paymentAmount    *prometheus.CounterVec
	ledgerFailures   *prometheus.CounterVec
	generationRuns   *prometheus.CounterVec
	generationOutput *prometheus.CounterVec
}

// NewMetrics builds a private registry with the HTTP and billing collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feeledger_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_payments_recorded_total",
		Help: "Payments committed, by payment method.",
	}, []string{"method"})
	amount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_payments_amount_total",
		Help: "Sum of committed payment amounts, by payment method.",
	}, []string{"method"})
	ledger := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_ledger_post_failures_total",
		Help: "Journal postings that failed and were left for the outbox relay.",
	}, []string{"event"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_fee_generation_runs_total",
		Help: "Fee generation runs by trigger and final status.",
	}, []string{"type", "status"})
	output := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_fee_generation_records_total",
		Help: "Fee obligations generated or failed by generation runs.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, payments, amount, ledger, runs, output)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		paymentsTotal:    payments,
		paymentAmount:    amount,
		ledgerFailures:   ledger,
		generationRuns:   runs,
		generationOutput: output,
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

// Middleware records request counts and latency per chi route pattern.
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

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// PaymentRecorded counts a committed payment.
func (m *Metrics) PaymentRecorded(method string, amount float64) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(method).Inc()
	m.paymentAmount.WithLabelValues(method).Add(amount)
}

// LedgerPostFailed counts a journal posting that did not go through.
func (m *Metrics) LedgerPostFailed(event string) {
	if m == nil {
		return
	}
	m.ledgerFailures.WithLabelValues(event).Inc()
}

// FeeGenerationFinished counts a finished generation run and its output.
func (m *Metrics) FeeGenerationFinished(runType, status string, generated, failed int) {
	if m == nil {
		return
	}
	m.generationRuns.WithLabelValues(runType, status).Inc()
	if generated > 0 {
		m.generationOutput.WithLabelValues("generated").Add(float64(generated))
	}
	if failed > 0 {
		m.generationOutput.WithLabelValues("failed").Add(float64(failed))
	}
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
