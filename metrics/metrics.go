// Package metrics holds the prometheus instruments of the worker runtime.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WorkersActive prometheus.Gauge
	WorkersTotal  prometheus.Counter

	Collections        prometheus.Counter
	CollectionDuration prometheus.Histogram
	HandlesMarked      prometheus.Counter
	HandlesSwept       prometheus.Counter

	TimersScheduled *prometheus.CounterVec
	TimersFired     *prometheus.CounterVec
	TimersCancelled prometheus.Counter

	Listeners prometheus.Gauge

	Imports        prometheus.Counter
	ImportFailures *prometheus.CounterVec

	ListenerErrors prometheus.Counter
}

// New registers all instruments with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WorkersActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "juiceworker_workers_active",
			Help: "Number of running worker contexts",
		}),
		WorkersTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_workers_total",
			Help: "Total number of worker contexts started",
		}),
		Collections: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_gc_collections_total",
			Help: "Total number of mark and sweep passes",
		}),
		CollectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "juiceworker_gc_collection_duration_seconds",
			Help:    "Duration of mark and sweep passes",
			Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
		}),
		HandlesMarked: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_gc_marked_total",
			Help: "Total number of handles marked reachable",
		}),
		HandlesSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_gc_swept_total",
			Help: "Total number of handles released by sweeps",
		}),
		TimersScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "juiceworker_timers_scheduled_total",
			Help: "Total number of scheduled actions registered",
		}, []string{"kind"}),
		TimersFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "juiceworker_timers_fired_total",
			Help: "Total number of scheduled actions fired",
		}, []string{"kind"}),
		TimersCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_timers_cancelled_total",
			Help: "Total number of scheduled actions cancelled",
		}),
		Listeners: f.NewGauge(prometheus.GaugeOpts{
			Name: "juiceworker_listeners",
			Help: "Number of registered event listeners",
		}),
		Imports: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_imports_total",
			Help: "Total number of scripts imported",
		}),
		ImportFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "juiceworker_import_failures_total",
			Help: "Total number of failed script imports",
		}, []string{"reason"}),
		ListenerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "juiceworker_listener_errors_total",
			Help: "Total number of exceptions thrown by event listeners",
		}),
	}
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.WorkersActive.Inc()
	m.WorkersTotal.Inc()
}

func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.WorkersActive.Dec()
}

func (m *Metrics) Collected(marked, swept int, dur time.Duration) {
	if m == nil {
		return
	}
	m.Collections.Inc()
	m.CollectionDuration.Observe(dur.Seconds())
	m.HandlesMarked.Add(float64(marked))
	m.HandlesSwept.Add(float64(swept))
}

func timerKind(repeat bool) string {
	if repeat {
		return "interval"
	}
	return "timeout"
}

func (m *Metrics) TimerScheduled(repeat bool) {
	if m == nil {
		return
	}
	m.TimersScheduled.WithLabelValues(timerKind(repeat)).Inc()
}

func (m *Metrics) TimerFired(repeat bool) {
	if m == nil {
		return
	}
	m.TimersFired.WithLabelValues(timerKind(repeat)).Inc()
}

func (m *Metrics) TimerCancelled() {
	if m == nil {
		return
	}
	m.TimersCancelled.Inc()
}

func (m *Metrics) ListenerAdded() {
	if m == nil {
		return
	}
	m.Listeners.Inc()
}

func (m *Metrics) ListenerRemoved(n int) {
	if m == nil {
		return
	}
	m.Listeners.Sub(float64(n))
}

func (m *Metrics) ListenerFailed() {
	if m == nil {
		return
	}
	m.ListenerErrors.Inc()
}

func (m *Metrics) Imported() {
	if m == nil {
		return
	}
	m.Imports.Inc()
}

func (m *Metrics) ImportFailed(reason string) {
	if m == nil {
		return
	}
	m.ImportFailures.WithLabelValues(reason).Inc()
}
