package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	transfersTotal    *prometheus.CounterVec
	riskChecksTotal   *prometheus.CounterVec
	approvalsResolved *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_transfers_total",
				Help: "Transfers by workflow outcome.",
			},
			[]string{"outcome"},
		),
		riskChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_risk_checks_total",
				Help: "Risk check results by check and status.",
			},
			[]string{"check", "status"},
		),
		approvalsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_approvals_resolved_total",
				Help: "Approval requests resolved by final status.",
			},
			[]string{"status"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_events_published_total",
				Help: "Outbound events by routing key and result.",
			},
			[]string{"routing_key", "result"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrTransfer counts a transfer reaching outcome (a TransferState).
func (m *Metrics) IncrTransfer(outcome domain.TransferState) {
	m.transfersTotal.WithLabelValues(string(outcome)).Inc()
}

// IncrRiskCheck counts one check result.
func (m *Metrics) IncrRiskCheck(check string, status domain.CheckStatus) {
	m.riskChecksTotal.WithLabelValues(check, string(status)).Inc()
}

// IncrApprovalResolved counts a resolved approval request.
func (m *Metrics) IncrApprovalResolved(status domain.ApprovalStatus) {
	m.approvalsResolved.WithLabelValues(string(status)).Inc()
}

// IncrEventPublished counts an outbound event.
func (m *Metrics) IncrEventPublished(routingKey, result string) {
	m.eventsPublished.WithLabelValues(routingKey, result).Inc()
}

// GetWorkflowSnapshot returns the workflow counters for the
// GET /v1/metrics/workflow endpoint.
func (m *Metrics) GetWorkflowSnapshot() *domain.WorkflowMetrics {
	snap := &domain.WorkflowMetrics{
		Transfers: make(map[string]int64),
		Approvals: make(map[string]int64),
		Period:    "all_time",
	}
	for _, s := range []domain.TransferState{
		domain.StateExecuted, domain.StatePendingApproval, domain.StateBlocked,
		domain.StateCancelled, domain.StateExpired,
	} {
		snap.Transfers[string(s)] = int64(getCounterValue(m.transfersTotal, string(s)))
	}
	for _, s := range []domain.ApprovalStatus{domain.ApprovalApproved, domain.ApprovalRejected, domain.ApprovalExpired} {
		snap.Approvals[string(s)] = int64(getCounterValue(m.approvalsResolved, string(s)))
	}

	submitted := snap.Transfers[string(domain.StatePendingApproval)] +
		snap.Transfers[string(domain.StateBlocked)] +
		snap.Transfers[string(domain.StateExecuted)]
	if submitted > 0 {
		snap.BlockRate = float64(snap.Transfers[string(domain.StateBlocked)]) / float64(submitted)
	}
	hits := getCounterValue(m.cacheHits, "limit_config")
	misses := getCounterValue(m.cacheMisses, "limit_config")
	if hits+misses > 0 {
		snap.CacheHitRate = hits / (hits + misses)
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
