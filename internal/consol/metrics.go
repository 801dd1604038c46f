package consol

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/consolidation/internal/consol/checks"
)

// Metrics exposes Prometheus collectors for consolidation runs.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	issues   *prometheus.CounterVec
	checks   *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the run metrics. A nil registerer uses the default
// Prometheus registerer once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_consol_operations_total",
		Help: "Consolidation operations partitioned by operation and status.",
	}, []string{"operation", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_consol_operation_duration_seconds",
		Help:    "Duration in seconds of consolidation operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	issueCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_consol_issues_total",
		Help: "Accumulated per-record issues by kind and severity.",
	}, []string{"kind", "severity"})
	checkCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_consol_checks_total",
		Help: "Validation check outcomes by status.",
	}, []string{"status"})
	registerer.MustRegister(runs, duration, issueCounter, checkCounter)
	return &Metrics{runs: runs, duration: duration, issues: issueCounter, checks: checkCounter}
}

// observe records the outcome of one operation and returns err untouched.
func (m *Metrics) observe(operation string, start time.Time, err error) error {
	if m == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.runs.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}

func (m *Metrics) observeResult(res Result) {
	if m == nil {
		return
	}
	for _, issue := range res.Issues.Issues {
		m.issues.WithLabelValues(string(issue.Kind), string(issue.Severity)).Inc()
	}
	for status, n := range checks.Summary(res.Checks) {
		m.checks.WithLabelValues(string(status)).Add(float64(n))
	}
}
