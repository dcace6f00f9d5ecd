// Package metrics holds the Prometheus collectors for registry operations
// and the HTTP API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// Metrics owns a registry of collectors. Use New per process; tests create
// their own.
type Metrics struct {
	reg *prometheus.Registry

	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	escrow       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	keeperRuns   *prometheus.CounterVec
	archived     *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "registry",
				Name:      "operations_total",
				Help:      "Registry operations by outcome.",
			},
			[]string{"op", "result"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "registry",
				Name:      "operation_duration_seconds",
				Help:      "Registry operation latency including lock wait.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		escrow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "registry",
			Name:      "escrow_balance",
			Help:      "Sum of all listing deposits held in escrow.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		keeperRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "registry",
				Subsystem: "keeper",
				Name:      "transitions_total",
				Help:      "Transitions advanced by the keeper.",
			},
			[]string{"result"},
		),
		archived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "registry",
				Subsystem: "archive",
				Name:      "rows_total",
				Help:      "Rows exported to blob storage.",
			},
			[]string{"kind"},
		),
	}
	m.reg.MustRegister(
		m.operations, m.opDuration, m.escrow,
		m.httpRequests, m.httpDuration,
		m.keeperRuns, m.archived,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation records one registry operation. Rule violations are
// labelled by category.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operations.WithLabelValues(op, resultLabel(err)).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetEscrow sets the escrow gauge.
func (m *Metrics) SetEscrow(total uint64) {
	m.escrow.Set(float64(total))
}

// RecordHTTPRequest records one API request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RecordKeeper counts one keeper attempt.
func (m *Metrics) RecordKeeper(result string) {
	m.keeperRuns.WithLabelValues(result).Inc()
}

// RecordArchived counts exported rows.
func (m *Metrics) RecordArchived(kind string, n int64) {
	m.archived.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch domain.Category(err) {
	case domain.ErrPrecondition:
		return "precondition"
	case domain.ErrAuthorization:
		return "authorization"
	case domain.ErrTiming:
		return "timing"
	case domain.ErrConflict:
		return "conflict"
	case domain.ErrFunds:
		return "funds"
	}
	if errors.Is(err, domain.ErrLockHeld) {
		return "busy"
	}
	return "error"
}
