// Package metrics exposes orchestrator activity as Prometheus metrics and
// serves them, together with health and debug endpoints, over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/entrhq/pagewatch/pkg/orchestrator"
	"github.com/entrhq/pagewatch/pkg/resource"
)

const namespace = "pagewatch"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles   *prometheus.CounterVec
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Pipeline runs by kind.",
		}, []string{"kind"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_results_total",
			Help:      "Module runs by module and outcome.",
		}, []string{"module", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "module_duration_seconds",
			Help:      "Time spent in a module's apply.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"module"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinitializations_dropped_total",
			Help:      "Reinitialization requests dropped because one was already running.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.results,
		m.duration,
		m.dropped,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Hooks returns orchestrator hooks that feed these metrics.
func (m *Metrics) Hooks() orchestrator.Hooks {
	return orchestrator.Hooks{
		OnCycle:   m.ObserveCycle,
		OnDropped: m.dropped.Inc,
	}
}

// ObserveCycle records a finished pipeline run.
func (m *Metrics) ObserveCycle(r *orchestrator.CycleReport) {
	m.cycles.WithLabelValues(string(r.Kind)).Inc()
	for _, res := range r.Results {
		m.results.WithLabelValues(res.Module, res.Outcome.String()).Inc()
		m.duration.WithLabelValues(res.Module).Observe(res.Duration.Seconds())
	}
}

// Track registers gauges read from o at scrape time: the lifecycle state as a
// one-hot gauge and the live tracked resources by kind.
func (m *Metrics) Track(o *orchestrator.Orchestrator) error {
	for _, s := range orchestrator.States() {
		state := s
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "state",
			Help:        "1 for the orchestrator's current lifecycle state.",
			ConstLabels: prometheus.Labels{"state": state.String()},
		}, func() float64 {
			if o.State() == state {
				return 1
			}
			return 0
		})
		if err := m.registry.Register(g); err != nil {
			return err
		}
	}

	for _, k := range []resource.Kind{resource.KindTimer, resource.KindWatcher} {
		kind := k
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "tracked_resources",
			Help:        "Live resources held by the resource tracker.",
			ConstLabels: prometheus.Labels{"kind": kind.String()},
		}, func() float64 {
			stats := o.Stats()
			if kind == resource.KindTimer {
				return float64(stats.Timers)
			}
			return float64(stats.Watchers)
		})
		if err := m.registry.Register(g); err != nil {
			return err
		}
	}
	return nil
}
