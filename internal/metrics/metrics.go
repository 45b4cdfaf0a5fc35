// Package metrics exposes run metrics through Prometheus collectors.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "error"
	// Locked means another process held the run lock and the pass was skipped.
	Locked Outcome = "locked"
)

const namespace = "relayweather"

// RunStats summarises one pass for the recorder.
type RunStats struct {
	Duration   time.Duration
	Relays     int
	Welcome    int
	Reward     int
	Skipped    int
	MarkedDown int64
	Pruned     int64
	Err        error
	LockHeld   bool
}

// Outcome classifies the run.
func (s RunStats) Outcome() Outcome {
	switch {
	case s.Err != nil:
		return Failure
	case s.LockHeld:
		return Locked
	default:
		return Success
	}
}

// Recorder owns a private registry so the same collectors can be served,
// written to a textfile and pushed.
type Recorder struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	notifications *prometheus.CounterVec
	relays        prometheus.Gauge
	skipped       prometheus.Counter
	markedDown    prometheus.Counter
	pruned        prometheus.Counter
	duration      prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

// NewRecorder registers the run collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Evaluation passes by outcome.",
		}, []string{"outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to the dispatcher by kind.",
		}, []string{"kind"}),
		relays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays_evaluated",
			Help:      "Running relays evaluated in the last pass.",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_skipped_total",
			Help:      "Relays whose reward check was skipped for insufficient data.",
		}),
		markedDown: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_marked_down_total",
			Help:      "Tracked relays marked down because they were absent.",
		}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_pruned_total",
			Help:      "Stale tracked relays deleted.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of evaluation passes.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pass.",
		}),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records the outcome of one pass.
func (r *Recorder) ObserveRun(stats RunStats) {
	outcome := stats.Outcome()
	r.runs.WithLabelValues(string(outcome)).Inc()
	if outcome == Locked {
		return
	}

	r.duration.Observe(stats.Duration.Seconds())
	r.relays.Set(float64(stats.Relays))
	r.notifications.WithLabelValues("welcome").Add(float64(stats.Welcome))
	r.notifications.WithLabelValues("reward").Add(float64(stats.Reward))
	r.skipped.Add(float64(stats.Skipped))
	r.markedDown.Add(float64(stats.MarkedDown))
	r.pruned.Add(float64(stats.Pruned))
	if outcome == Success {
		r.lastSuccess.SetToCurrentTime()
	}
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the registry to a Prometheus pushgateway.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
