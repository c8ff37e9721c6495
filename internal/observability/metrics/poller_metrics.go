package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	PollerReasonDeadlineExceeded = "deadline_exceeded"
	PollerReasonDBLockTimeout    = "db_lock_timeout"
	PollerReasonSerialization    = "serialization_failure"
	PollerReasonGateway          = "gateway"
	PollerReasonDB               = "db"
	PollerReasonUnknown          = "unknown"

	PollerSkipLockHeld = "lock_held"
	PollerSkipDisabled = "disabled"
)

// GatewayErrorClassifier lets the poller flag upstream failures without this
// package importing the gateway client.
type GatewayErrorClassifier func(err error) bool

// PollerMetrics captures background reconciliation sweep health.
type PollerMetrics struct {
	runs      *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	duration  prometheus.Observer
	errors    *prometheus.CounterVec
	processed *prometheus.CounterVec

	isGateway GatewayErrorClassifier
}

func NewPollerMetrics(cfg Config) *PollerMetrics {
	return newPollerMetrics(prometheus.DefaultRegisterer, cfg)
}

func newPollerMetrics(registerer prometheus.Registerer, cfg Config) *PollerMetrics {
	constLabels := constLabelsFor(cfg)

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicepay_poller_runs_total",
		Help:        "Reconciliation sweeps started.",
		ConstLabels: constLabels,
	}, []string{"trigger"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicepay_poller_skipped_total",
		Help:        "Reconciliation sweeps skipped by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invoicepay_poller_duration_seconds",
		Help:        "Reconciliation sweep latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicepay_poller_errors_total",
		Help:        "Per-payment verification failures by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invoicepay_poller_payments_total",
		Help:        "Payments verified by resulting status.",
		ConstLabels: constLabels,
	}, []string{"status"})

	return &PollerMetrics{
		runs:      registerCollector(registerer, runs).(*prometheus.CounterVec),
		skipped:   registerCollector(registerer, skipped).(*prometheus.CounterVec),
		duration:  registerCollector(registerer, duration).(prometheus.Histogram),
		errors:    registerCollector(registerer, errs).(*prometheus.CounterVec),
		processed: registerCollector(registerer, processed).(*prometheus.CounterVec),
	}
}

// WithGatewayClassifier installs the upstream-error predicate.
func (m *PollerMetrics) WithGatewayClassifier(fn GatewayErrorClassifier) *PollerMetrics {
	if m != nil {
		m.isGateway = fn
	}
	return m
}

func (m *PollerMetrics) IncRun(trigger string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(trigger).Inc()
}

func (m *PollerMetrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *PollerMetrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

// IncError increments the failure counter with classification.
func (m *PollerMetrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(m.Classify(err)).Inc()
}

func (m *PollerMetrics) IncProcessed(status string) {
	if m == nil {
		return
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		status = "UNKNOWN"
	}
	m.processed.WithLabelValues(status).Inc()
}

// Classify maps verification errors to low-cardinality reasons.
func (m *PollerMetrics) Classify(err error) string {
	if err == nil {
		return PollerReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return PollerReasonDeadlineExceeded
	}
	if m != nil && m.isGateway != nil && m.isGateway(err) {
		return PollerReasonGateway
	}
	if hasPGCode(err, "55P03") {
		return PollerReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return PollerReasonSerialization
	}
	if isDBError(err) {
		return PollerReasonDB
	}
	return PollerReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
