/*
Package observability collects prometheus metrics for the HTTP surface,
the ledger engine and background jobs.

PURPOSE:
  One registry per process. Metrics implements ledger.Observer so the
  engine reports sequence issuance, contention and allocation outcomes
  without importing prometheus itself.

METRICS:
  fleet_http_requests_total{route,code}
  fleet_http_request_duration_seconds{route}
  fleet_sequence_issued_total{class}
  fleet_contention_total{op}
  fleet_allocations_total{outcome}
  fleet_allocation_lines_total
  fleet_jobs_total{job,status}
  fleet_job_duration_seconds{job}
  fleet_balance_mismatches_total{subject_kind}
*/
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/fleet-ledger/ledger"
)

// Metrics holds the process registry and every collector.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	sequenceIssued  *prometheus.CounterVec
	contention      *prometheus.CounterVec
	allocations     *prometheus.CounterVec
	allocationLines prometheus.Counter

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	mismatches  *prometheus.CounterVec
}

var _ ledger.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleet_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sequenceIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_sequence_issued_total",
			Help: "Sequence numbers issued by scope class.",
		}, []string{"class"}),
		contention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_contention_total",
			Help: "Transactions that failed on contention or deadline, by operation.",
		}, []string{"op"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_allocations_total",
			Help: "Payment allocations by outcome.",
		}, []string{"outcome"}),
		allocationLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_allocation_lines_total",
			Help: "Allocation lines committed.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_jobs_total",
			Help: "Background job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleet_job_duration_seconds",
			Help:    "Background job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_balance_mismatches_total",
			Help: "Incremental balances that disagreed with a full fold.",
		}, []string{"subject_kind"}),
	}
	m.registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.sequenceIssued, m.contention, m.allocations, m.allocationLines,
		m.jobRuns, m.jobDuration, m.mismatches,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the registry for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// =============================================================================
// HTTP
// =============================================================================

// Middleware records request count and duration per chi route pattern.
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

// =============================================================================
// LEDGER OBSERVER
// =============================================================================

func (m *Metrics) SequenceIssued(class string) { m.sequenceIssued.WithLabelValues(class).Inc() }

func (m *Metrics) Contention(op string) { m.contention.WithLabelValues(op).Inc() }

func (m *Metrics) AllocationCommitted(lines int) {
	m.allocations.WithLabelValues("committed").Inc()
	m.allocationLines.Add(float64(lines))
}

func (m *Metrics) AllocationRejected(reason string) { m.allocations.WithLabelValues(reason).Inc() }

// =============================================================================
// JOBS
// =============================================================================

// TrackJob starts timing a job run; call the returned func with its error.
func (m *Metrics) TrackJob(job string) func(error) error {
	start := time.Now()
	return func(err error) error {
		if m == nil {
			return err
		}
		status := "success"
		if err != nil {
			status = "failure"
		}
		m.jobRuns.WithLabelValues(job, status).Inc()
		m.jobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
		return err
	}
}

// BalanceMismatch counts one disagreement between fold and incremental.
func (m *Metrics) BalanceMismatch(kind ledger.SubjectKind) {
	if m == nil {
		return
	}
	m.mismatches.WithLabelValues(string(kind)).Inc()
}
