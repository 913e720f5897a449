// Package metrics counts step outcomes and writes them as a Prometheus
// textfile for the node exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GenomiqueENS/aozan/internal/step"
)

// Recorder implements step.Observer.
type Recorder struct {
	registry *prometheus.Registry
	start    time.Time

	attempts *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	elapsed  prometheus.Gauge
	lastRun  prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aozan_step_attempts_total",
			Help: "Step attempts by outcome during the last invocation",
		}, []string{"step", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aozan_step_failures_total",
			Help: "Step failures by error kind during the last invocation",
		}, []string{"step", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aozan_step_duration_seconds",
			Help:    "Duration of step attempts that held the lock",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}, []string{"step"}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aozan_invocation_duration_seconds",
			Help: "Duration of the last invocation",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aozan_invocation_timestamp_seconds",
			Help: "End time of the last invocation",
		}),
	}
	r.registry.MustRegister(r.attempts, r.failures, r.duration, r.elapsed, r.lastRun)
	return r
}

// Observe records one step attempt.
func (r *Recorder) Observe(stepName string, outcome step.Outcome, kind step.Kind, elapsed time.Duration) {
	r.attempts.WithLabelValues(stepName, string(outcome)).Inc()
	if outcome == step.OutcomeFailure {
		r.failures.WithLabelValues(stepName, kind.String()).Inc()
	}
	if outcome != step.OutcomeLocked {
		r.duration.WithLabelValues(stepName).Observe(elapsed.Seconds())
	}
}

// Gatherer exposes the registry, mostly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile records the invocation duration and writes every metric to
// path. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	now := time.Now()
	r.elapsed.Set(now.Sub(r.start).Seconds())
	r.lastRun.Set(float64(now.Unix()))
	return prometheus.WriteToTextfile(path, r.registry)
}
