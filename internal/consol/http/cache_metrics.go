package http

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// apiMetrics are the cache and regenerate collectors of the consolidation API.
type apiMetrics struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	regenerate *prometheus.HistogramVec
}

var (
	apiMetricsMu  sync.Mutex
	apiMetricsSet *apiMetrics
)

// SetupCacheMetrics registers the working cache and regenerate metrics on reg
// (the default registerer when nil). Later calls are no-ops; collectors
// already registered by another owner are reused.
func SetupCacheMetrics(reg prometheus.Registerer) error {
	apiMetricsMu.Lock()
	defer apiMetricsMu.Unlock()
	if apiMetricsSet != nil {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &apiMetrics{}
	var err error
	if m.hits, err = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_consol_cache_hits_total",
		Help: "Working reads served from the redis cache.",
	}, []string{"report", "group"})); err != nil {
		return err
	}
	if m.misses, err = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_consol_cache_miss_total",
		Help: "Working reads that fell through to postgres.",
	}, []string{"report", "group"})); err != nil {
		return err
	}
	if m.regenerate, err = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_consol_regenerate_request_duration_seconds",
		Help:    "Regenerate request latency, including time spent waiting on a shared run.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 120},
	}, []string{"group", "shared"})); err != nil {
		return err
	}
	apiMetricsSet = m
	return nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return c, err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return c, fmt.Errorf("consol metrics: collector registered with type %T", already.ExistingCollector)
	}
	return existing, nil
}

func currentMetrics() *apiMetrics {
	apiMetricsMu.Lock()
	defer apiMetricsMu.Unlock()
	return apiMetricsSet
}

func recordCacheLookup(report string, groupID int64, hit bool) {
	m := currentMetrics()
	if m == nil {
		return
	}
	counter := m.misses
	if hit {
		counter = m.hits
	}
	counter.WithLabelValues(report, strconv.FormatInt(groupID, 10)).Inc()
}

func observeRegenerate(groupID int64, shared bool, duration time.Duration) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.regenerate.WithLabelValues(strconv.FormatInt(groupID, 10), strconv.FormatBool(shared)).Observe(duration.Seconds())
}
