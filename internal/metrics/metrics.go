// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	refused        prometheus.Counter
	classify       prometheus.Histogram
	violations     *prometheus.CounterVec
	actions        *prometheus.CounterVec
	activeRules    prometheus.Gauge
	blockedApps    prometheus.Gauge
	extensionLogs  prometheus.Counter
	httpRequests   *prometheus.CounterVec
	retentionPurge *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_cycles_total",
			Help: "Completed monitoring cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cortex_cycle_duration_seconds",
			Help:    "Time from admission to cooldown",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		refused: f.NewCounter(prometheus.CounterOpts{
			Name: "cortex_cycles_refused_total",
			Help: "Cycle requests refused because a cycle was in flight",
		}),
		classify: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cortex_classify_duration_seconds",
			Help:    "Classification call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_violations_total",
			Help: "Rule violations detected by rule type",
		}, []string{"rule_type"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_actions_total",
			Help: "Dispatched actions by type and success",
		}, []string{"type", "success"}),
		activeRules: f.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_active_rules",
			Help: "Active rules in the most recent cycle snapshot",
		}),
		blockedApps: f.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_blocked_apps",
			Help: "Apps currently blocked",
		}),
		extensionLogs: f.NewCounter(prometheus.CounterOpts{
			Name: "cortex_extension_logs_total",
			Help: "Browser extension reports received",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_http_requests_total",
			Help: "API requests by route pattern and status",
		}, []string{"method", "route", "status"}),
		retentionPurge: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_retention_purged_total",
			Help: "Rows removed by the retention job",
		}, []string{"table"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CycleFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) CycleRefused() {
	if m == nil {
		return
	}
	m.refused.Inc()
}

func (m *Metrics) Classified(d time.Duration) {
	if m == nil {
		return
	}
	m.classify.Observe(d.Seconds())
}

func (m *Metrics) Violation(ruleType string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(ruleType).Inc()
}

func (m *Metrics) ActionDispatched(actionType string, success bool) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(actionType, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) SetActiveRules(n int) {
	if m == nil {
		return
	}
	m.activeRules.Set(float64(n))
}

func (m *Metrics) SetBlockedApps(n int) {
	if m == nil {
		return
	}
	m.blockedApps.Set(float64(n))
}

func (m *Metrics) ExtensionLog() {
	if m == nil {
		return
	}
	m.extensionLogs.Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Purged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionPurge.WithLabelValues(table).Add(float64(n))
}
