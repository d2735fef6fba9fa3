// Package metrics counts what resolution runs produce.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry so several resolvers in one process, and tests,
// do not share counters.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	pointsTotal     *prometheus.CounterVec
	groupsTotal     prometheus.Counter
	statisticsTotal *prometheus.CounterVec
	runDuration     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcfg_runs_total",
				Help: "Number of resolution runs by outcome.",
			},
			[]string{"outcome"},
		),
		pointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcfg_points_resolved_total",
				Help: "Number of quantization points given a configuration, by kind.",
			},
			[]string{"kind"},
		),
		groupsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quantcfg_unification_groups_total",
				Help: "Number of unification groups found.",
			},
		),
		statisticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcfg_statistics_total",
				Help: "Number of statistics requested, by how they are read.",
			},
			[]string{"placement"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quantcfg_run_duration_seconds",
				Help:    "Time taken by a resolution run.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	m.registry.MustRegister(m.runsTotal, m.pointsTotal, m.groupsTotal, m.statisticsTotal, m.runDuration)
	return m
}

// RunFinished records one run. A nil err counts as success.
func (m *Metrics) RunFinished(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) PointsResolved(kind string, n int) {
	m.pointsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) GroupsFound(n int) {
	m.groupsTotal.Add(float64(n))
}

// StatisticsPlaced records statistics reduced in the graph and those read
// from raw node outputs.
func (m *Metrics) StatisticsPlaced(reduced, raw int) {
	m.statisticsTotal.WithLabelValues("reduced").Add(float64(reduced))
	m.statisticsTotal.WithLabelValues("raw").Add(float64(raw))
}

func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
