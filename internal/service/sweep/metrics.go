package sweep

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	runsTotal       prometheus.Counter
	rebuildsTotal   *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	activeGauge     prometheus.Gauge
	finishedGauge   prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "staggerd",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Count of completed sweep iterations",
		}),
		rebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staggerd",
			Subsystem: "sweep",
			Name:      "rebuilds_total",
			Help:      "Count of target cache rebuilds by result",
		}, []string{"result"}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "staggerd",
			Subsystem: "sweep",
			Name:      "rebuild_duration_seconds",
			Help:      "Latency distribution of per-deployment rebuilds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "staggerd",
			Subsystem: "sweep",
			Name:      "scheduled_deployments_active",
			Help:      "Schedule-bearing deployments below 100 percent at last sweep",
		}),
		finishedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "staggerd",
			Subsystem: "sweep",
			Name:      "scheduled_deployments_finished",
			Help:      "Schedule-bearing deployments at 100 percent at last sweep",
		}),
	}

	if vec, ok := registerVec(m.rebuildsTotal); ok {
		m.rebuildsTotal = vec
	}
	for _, c := range []prometheus.Collector{m.runsTotal, m.rebuildDuration, m.activeGauge, m.finishedGauge} {
		// Duplicate registration happens when several controllers are built
		// in one process (tests); the local collector keeps working either way.
		registerCollector(c)
	}
	return m
}

func registerVec(vec *prometheus.CounterVec) (*prometheus.CounterVec, bool) {
	if err := prometheus.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, true
			}
		}
	}
	return nil, false
}

func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		_ = errors.As(err, &are)
	}
}

func (m *metrics) observeRebuild(result string, elapsed time.Duration) {
	m.rebuildsTotal.WithLabelValues(result).Inc()
	m.rebuildDuration.Observe(elapsed.Seconds())
}
