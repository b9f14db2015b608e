package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig toggles metrics collection.
type MetricsConfig struct {
	Enabled bool
}

// Metrics exports Prometheus counters/gauges for the kernel's subsystems,
// the same registry-plus-typed-fields shape as the teacher's
// observability.Metrics, scoped to the scheduler/pager/quota/breaker
// domain instead of agent/LLM/session metrics.
type Metrics struct {
	registry *prometheus.Registry

	schedulerScheduled *prometheus.CounterVec
	schedulerPreempted *prometheus.CounterVec

	pagerAllocations *prometheus.CounterVec
	pagerFaults      prometheus.Counter
	pagerSwapIns     prometheus.Counter
	pagerSwapOuts    prometheus.Counter
	pagerUsageRatio  prometheus.Gauge

	quotaDenials *prometheus.CounterVec
	quotaAdmits  *prometheus.CounterVec

	breakerState            *prometheus.GaugeVec
	breakerConsecutiveFails *prometheus.GaugeVec

	auditWrites *prometheus.CounterVec
}

// NewMetrics constructs a Metrics instance, or nil if disabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		schedulerScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkernel_scheduler_scheduled_total",
			Help: "Total number of schedule() calls that returned a runnable process.",
		}, nil),
		schedulerPreempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkernel_scheduler_preempted_total",
			Help: "Total number of preemptions.",
		}, nil),
		pagerAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkernel_pager_allocations_total",
			Help: "Total number of context pages allocated, by page_type.",
		}, []string{"page_type"}),
		pagerFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentkernel_pager_page_faults_total",
			Help: "Total number of page-ins (faults) serviced.",
		}),
		pagerSwapIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentkernel_pager_swap_ins_total",
			Help: "Total number of pages swapped back into memory.",
		}),
		pagerSwapOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentkernel_pager_swap_outs_total",
			Help: "Total number of pages swapped out to the backing store.",
		}),
		pagerUsageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentkernel_pager_usage_ratio",
			Help: "current_usage / max_context_tokens.",
		}),
		quotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkernel_quota_denials_total",
			Help: "Total number of denied quota requests, by reason.",
		}, []string{"reason"}),
		quotaAdmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkernel_quota_admits_total",
			Help: "Total number of admitted quota requests.",
		}, nil),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentkernel_breaker_state",
			Help: "Circuit breaker state (0=CLOSED, 1=HALF_OPEN, 2=OPEN), by dependency.",
		}, []string{"dependency"}),
		breakerConsecutiveFails: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentkernel_breaker_consecutive_failures",
			Help: "Consecutive failure count, by dependency.",
		}, []string{"dependency"}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkernel_audit_writes_total",
			Help: "Total number of audit log entries written, by action_type.",
		}, []string{"action_type"}),
	}

	reg.MustRegister(
		m.schedulerScheduled, m.schedulerPreempted,
		m.pagerAllocations, m.pagerFaults, m.pagerSwapIns, m.pagerSwapOuts, m.pagerUsageRatio,
		m.quotaDenials, m.quotaAdmits,
		m.breakerState, m.breakerConsecutiveFails,
		m.auditWrites,
	)

	return m
}

func (m *Metrics) RecordScheduled()            { m.schedulerScheduled.WithLabelValues().Inc() }
func (m *Metrics) RecordPreempted()            { m.schedulerPreempted.WithLabelValues().Inc() }
func (m *Metrics) RecordAllocation(pageType string) { m.pagerAllocations.WithLabelValues(pageType).Inc() }
func (m *Metrics) RecordPageFault()            { m.pagerFaults.Inc() }
func (m *Metrics) RecordSwapIn()               { m.pagerSwapIns.Inc() }
func (m *Metrics) RecordSwapOut()              { m.pagerSwapOuts.Inc() }
func (m *Metrics) SetUsageRatio(ratio float64) { m.pagerUsageRatio.Set(ratio) }
func (m *Metrics) RecordQuotaDenial(reason string) { m.quotaDenials.WithLabelValues(reason).Inc() }
func (m *Metrics) RecordQuotaAdmit()           { m.quotaAdmits.WithLabelValues().Inc() }
func (m *Metrics) SetBreakerState(dependency string, state int) {
	m.breakerState.WithLabelValues(dependency).Set(float64(state))
}
func (m *Metrics) SetBreakerConsecutiveFailures(dependency string, n int) {
	m.breakerConsecutiveFails.WithLabelValues(dependency).Set(float64(n))
}
func (m *Metrics) RecordAuditWrite(actionType string) { m.auditWrites.WithLabelValues(actionType).Inc() }

// Handler returns an http.Handler exposing the registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
