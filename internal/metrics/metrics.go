// Package metrics records orchestration counters and timings for the
// Prometheus textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jeeves"

// Recorder holds the run metrics of one process. A nil Recorder records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	runs         *prometheus.CounterVec
	violations   prometheus.Counter
}

// New registers the jeeves collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed workflow steps by phase, phase type and step status.",
		}, []string{"phase", "type", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of workflow steps.",
			Buckets:   []float64{1, 5, 15, 60, 180, 600, 1800, 3600},
		}, []string{"phase", "type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Phase transitions taken.",
		}, []string{"from", "to"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by final status.",
		}, []string{"status"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_violations_total",
			Help:      "Files written outside an evaluate phase's allowed writes.",
		}),
	}
	r.registry.MustRegister(r.steps, r.stepDuration, r.transitions, r.runs, r.violations)
	return r
}

// Step records one executed step.
func (r *Recorder) Step(phase, phaseType, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(phase, phaseType, status).Inc()
	r.stepDuration.WithLabelValues(phase, phaseType).Observe(d.Seconds())
}

// Transition records a phase change.
func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

// Violations adds disallowed file writes.
func (r *Recorder) Violations(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.violations.Add(float64(n))
}

// RunFinished records the final status of a run.
func (r *Recorder) RunFinished(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The parent directory is created if missing.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
