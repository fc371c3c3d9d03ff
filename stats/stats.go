// Package stats exposes gomary's Prometheus metrics: per-worker poll
// iteration latency, timer-fire counts, and sender deferred-queue
// depth. Naming follows the teacher's own stats package convention
// (stats/target_stats.go: "*.n" counter, "*.ns" latency, "*.size"
// size), translated into valid Prometheus identifiers — dots aren't
// legal there — as "_n"/"_ns" suffixes.
//
// Collector itself never imports poll, timers, or sender: each of
// those packages declares its own narrow Metrics interface
// (ObservePollIteration/ObserveTimerFired/ObserveQueueDepth), and
// WorkerMetrics, returned by ForWorker, satisfies all three by
// structural typing alone.
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gomary"

// Collector holds every metric this module exports, labeled by
// worker so one Collector can be shared across every server.Context
// in a server.App.
type Collector struct {
	pollIterationNs *prometheus.HistogramVec
	timersFiredN    *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
}

// New builds a Collector and registers its metrics with reg (pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer to expose them via the default
// promhttp handler).
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pollIterationNs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_iteration_ns",
			Help:      "Duration of one PollGroup.Poll iteration, in nanoseconds.",
			Buckets:   prometheus.ExponentialBuckets(1e3, 4, 12), // 1us .. ~4.2s tail
		}, []string{"worker"}),
		timersFiredN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_fired_n",
			Help:      "Total number of timer callbacks fired.",
		}, []string{"worker"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sender_queue_depth",
			Help:      "Number of senders pending a DeferredQueue drain after the last Drain call.",
		}, []string{"worker"}),
	}
	reg.MustRegister(c.pollIterationNs, c.timersFiredN, c.queueDepth)
	return c
}

// ForWorker returns a handle bound to worker's label, implementing
// poll.Metrics, timers.Metrics, and sender.Metrics.
func (c *Collector) ForWorker(worker string) *WorkerMetrics {
	return &WorkerMetrics{c: c, worker: worker}
}

// WorkerMetrics is the per-worker view of a Collector's metrics.
type WorkerMetrics struct {
	c      *Collector
	worker string
}

// ObservePollIteration satisfies poll.Metrics.
func (w *WorkerMetrics) ObservePollIteration(d time.Duration) {
	w.c.pollIterationNs.WithLabelValues(w.worker).Observe(float64(d.Nanoseconds()))
}

// ObserveTimerFired satisfies timers.Metrics.
func (w *WorkerMetrics) ObserveTimerFired() {
	w.c.timersFiredN.WithLabelValues(w.worker).Inc()
}

// ObserveQueueDepth satisfies sender.Metrics.
func (w *WorkerMetrics) ObserveQueueDepth(n int) {
	w.c.queueDepth.WithLabelValues(w.worker).Set(float64(n))
}
