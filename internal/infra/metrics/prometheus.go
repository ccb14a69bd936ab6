// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Prometheus struct {
	sessionsCreated      prometheus.Counter
	sessionsReplaced     *prometheus.CounterVec
	sessionDisposeFailed prometheus.Counter
	guardRejected        *prometheus.CounterVec
	retries              *prometheus.CounterVec
	operationTotal       *prometheus.CounterVec
	operationDuration    *prometheus.HistogramVec
	useCaseTotal         *prometheus.CounterVec
	useCaseDuration      *prometheus.HistogramVec
	httpDuration         *prometheus.HistogramVec
}

func NewPrometheus(reg prometheus.Registerer, serviceName string) *Prometheus {
	labels := prometheus.Labels{"service": serviceName}

	m := &Prometheus{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shopdesk_sessions_created_total",
			Help:        "Database sessions opened by units of work.",
			ConstLabels: labels,
		}),
		sessionsReplaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopdesk_sessions_replaced_total",
			Help:        "Stale sessions replaced with a new generation.",
			ConstLabels: labels,
		}, []string{"reason"}),
		sessionDisposeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shopdesk_session_dispose_failures_total",
			Help:        "Session disposals that failed and were ignored.",
			ConstLabels: labels,
		}),
		guardRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopdesk_guard_rejections_total",
			Help:        "Operations rejected as busy by an operation guard.",
			ConstLabels: labels,
		}, []string{"guard"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopdesk_stale_retries_total",
			Help:        "Single retries after a stale session signal.",
			ConstLabels: labels,
		}, []string{"op", "outcome"}),
		operationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopdesk_data_operations_total",
			Help:        "Unit of work and repository operations.",
			ConstLabels: labels,
		}, []string{"op", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "shopdesk_data_operation_duration_seconds",
			Help:        "Unit of work and repository operation latency, guard wait included.",
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			ConstLabels: labels,
		}, []string{"op", "status"}),
		useCaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopdesk_usecase_total",
			Help:        "Total number of use case executions.",
			ConstLabels: labels,
		}, []string{"use_case", "status"}),
		useCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "shopdesk_usecase_duration_seconds",
			Help:        "Use case execution latency.",
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			ConstLabels: labels,
		}, []string{"use_case", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "shopdesk_http_duration_seconds",
			Help:        "Duration of HTTP requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method", "path", "status_code"}),
	}

	reg.MustRegister(
		m.sessionsCreated,
		m.sessionsReplaced,
		m.sessionDisposeFailed,
		m.guardRejected,
		m.retries,
		m.operationTotal,
		m.operationDuration,
		m.useCaseTotal,
		m.useCaseDuration,
		m.httpDuration,
	)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (p *Prometheus) SessionCreated() {
	p.sessionsCreated.Inc()
}

func (p *Prometheus) SessionReplaced(reason string) {
	p.sessionsReplaced.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SessionDisposeFailed() {
	p.sessionDisposeFailed.Inc()
}

func (p *Prometheus) GuardRejected(guard string) {
	p.guardRejected.WithLabelValues(guard).Inc()
}

func (p *Prometheus) Retried(op string, recovered bool) {
	outcome := "recovered"
	if !recovered {
		outcome = "exhausted"
	}
	p.retries.WithLabelValues(op, outcome).Inc()
}

func (p *Prometheus) ObserveOperation(op string, err error, d time.Duration) {
	status := operationStatus(err)
	p.operationTotal.WithLabelValues(op, status).Inc()
	p.operationDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func (p *Prometheus) RecordUseCaseExecution(useCase string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.useCaseTotal.WithLabelValues(useCase, status).Inc()
	p.useCaseDuration.WithLabelValues(useCase, status).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveHTTPRequestDuration(method, path, code string, duration float64) {
	p.httpDuration.WithLabelValues(method, path, code).Observe(duration)
}

// operationStatus keeps the status label to a fixed set.
func operationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domainerrors.ErrBusy):
		return "busy"
	case errors.Is(err, domainerrors.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, domainerrors.ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}
