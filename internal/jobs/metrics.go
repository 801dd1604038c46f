package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics holds the worker collectors: run counts and latency per task type
// plus the consolidation issue and blocked-entity series.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	issues   *prometheus.CounterVec
	blocked  *prometheus.GaugeVec
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// NewMetrics registers a fresh set of collectors on reg. A nil reg returns
// the process-wide set registered on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { shared = register(prometheus.DefaultRegisterer) })
	return shared
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Worker task runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_failures_total",
			Help: "Worker task runs that returned an error.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Wall time of a worker task run.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 180},
		}, []string{"job"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_consol_job_issues_total",
			Help: "Issues raised by scheduled consolidation runs.",
		}, []string{"kind", "group"}),
		blocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_consol_blocked_entities",
			Help: "Entities left out of the latest scheduled run of a group.",
		}, []string{"group"}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.issues, m.blocked)
	return m
}

// Tracker times one task run. The zero value and trackers from a nil
// Metrics record nothing.
type Tracker struct {
	m       *Metrics
	job     string
	started time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, started: time.Now()}
}

// End records the run and hands err back so it can close a handler:
//
//	return tracker.End(err)
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		t.m.failures.WithLabelValues(t.job).Inc()
	}
	t.m.runs.WithLabelValues(t.job, outcome).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.started).Seconds())
	return err
}

// AddIssues counts issues of one kind raised for a group. Non-positive
// counts are ignored.
func (m *Metrics) AddIssues(kind string, groupID int64, count int) {
	if m != nil && count > 0 {
		m.issues.WithLabelValues(kind, groupLabel(groupID)).Add(float64(count))
	}
}

// SetBlocked publishes the blocked entity count of the latest run of a group.
func (m *Metrics) SetBlocked(groupID int64, count int) {
	if m != nil {
		m.blocked.WithLabelValues(groupLabel(groupID)).Set(float64(count))
	}
}

func groupLabel(id int64) string {
	return strconv.FormatInt(max(id, 0), 10)
}
