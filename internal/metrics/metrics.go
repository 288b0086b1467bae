// Package metrics exposes scheduler counters to Prometheus.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shortsched"

type Metrics struct {
	reg *prometheus.Registry

	ticks      prometheus.Counter
	registered prometheus.Gauge
	dispatched *prometheus.CounterVec
	finished   *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	errors     *prometheus.CounterVec
	running    *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Scheduler loop ticks.",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tasks_registered",
			Help: "Registered task definitions.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_dispatched_total",
			Help: "Commands launched.",
		}, []string{"command"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_finished_total",
			Help: "Commands that exited, by outcome.",
		}, []string{"command", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_skipped_total",
			Help: "Due ticks that did not launch a command, by reason.",
		}, []string{"command", "reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_errors_total",
			Help: "Internal faults while evaluating or dispatching a task.",
		}, []string{"stage"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "task_running",
			Help: "Invocations currently in flight.",
		}, []string{"command"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Command wall time.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"command"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks, m.registered, m.dispatched, m.finished, m.skipped, m.errors, m.running, m.duration,
	)
	return m
}

// Registry returns the underlying registry (nil for a nil Metrics).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}

func (m *Metrics) Dispatched(command string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(command).Inc()
	m.running.WithLabelValues(command).Inc()
}

// Finished records a completed invocation. ok is false for a non-zero exit
// or a spawn failure.
func (m *Metrics) Finished(command string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.finished.WithLabelValues(command, outcome).Inc()
	m.running.WithLabelValues(command).Dec()
	m.duration.WithLabelValues(command).Observe(seconds)
}

func (m *Metrics) Skipped(command, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(command, reason).Inc()
}

func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}
