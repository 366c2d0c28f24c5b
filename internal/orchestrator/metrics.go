package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for pipeline runs.
type Metrics struct {
	// Stage execution
	StageDuration  *prometheus.HistogramVec
	StageAttempts  *prometheus.CounterVec
	StageDegraded  *prometheus.CounterVec
	StageTimeouts  *prometheus.CounterVec
	InFlightStages prometheus.Gauge

	// Runs
	RunsTotal    *prometheus.CounterVec
	RunsInFlight prometheus.Gauge
	SingleShots  *prometheus.CounterVec

	// Event delivery
	EventsEmitted *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

// NewMetrics creates and registers the pipeline metrics.
//
// Registration happens once per process; later calls return the same instance.
//
// Metrics:
//   - rulesmith_stage_duration_seconds{stage,outcome}
//   - rulesmith_stage_attempts_total{stage,result}
//   - rulesmith_stage_degraded_total{stage}
//   - rulesmith_stage_timeouts_total{stage}
//   - rulesmith_stage_in_flight
//   - rulesmith_runs_total{state}
//   - rulesmith_runs_in_flight
//   - rulesmith_single_shot_total{result}
//   - rulesmith_events_emitted_total{type}
//   - rulesmith_events_dropped_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "rulesmith",
					Name:      "stage_duration_seconds",
					Help:      "Duration of stage invocations including retries",
					Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"stage", "outcome"},
			),
			StageAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "stage_attempts_total",
					Help:      "Stage attempts by result",
				},
				[]string{"stage", "result"}, // "ok", "transient", "unavailable", "cancelled"
			),
			StageDegraded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "stage_degraded_total",
					Help:      "Stages completed with a substitute fragment",
				},
				[]string{"stage"},
			),
			StageTimeouts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "stage_timeouts_total",
					Help:      "Stage attempts that hit their timeout",
				},
				[]string{"stage"},
			),
			InFlightStages: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "rulesmith",
					Name:      "stage_in_flight",
					Help:      "Stage attempts currently holding a concurrency slot",
				},
			),
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "runs_total",
					Help:      "Pipeline runs by terminal state",
				},
				[]string{"state"},
			),
			RunsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "rulesmith",
					Name:      "runs_in_flight",
					Help:      "Pipeline runs currently executing",
				},
			),
			SingleShots: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "single_shot_total",
					Help:      "Single-shot fallback attempts by result",
				},
				[]string{"result"},
			),
			EventsEmitted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "events_emitted_total",
					Help:      "Progress events emitted by type",
				},
				[]string{"type"},
			),
			EventsDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "rulesmith",
					Name:      "events_dropped_total",
					Help:      "Progress events dropped after the grace period",
				},
			),
		}
	})

	return globalMetrics
}

// RecordAttempt records one stage attempt.
func (m *Metrics) RecordAttempt(stage StageName, result string) {
	if m == nil {
		return
	}
	m.StageAttempts.WithLabelValues(string(stage), result).Inc()
}

// RecordTimeout records a stage attempt timeout.
func (m *Metrics) RecordTimeout(stage StageName) {
	if m == nil {
		return
	}
	m.StageTimeouts.WithLabelValues(string(stage)).Inc()
}

// RecordStage records the final outcome of a stage invocation.
func (m *Metrics) RecordStage(res StageResult) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(string(res.Stage), string(res.Outcome)).Observe(res.Duration.Seconds())
	if res.Outcome == OutcomeDegraded {
		m.StageDegraded.WithLabelValues(string(res.Stage)).Inc()
	}
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

// RunFinished records a run's terminal state.
func (m *Metrics) RunFinished(state State) {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
	m.RunsTotal.WithLabelValues(string(state)).Inc()
}

// RecordSingleShot records a single-shot fallback result ("ok" or "failed").
func (m *Metrics) RecordSingleShot(result string) {
	if m == nil {
		return
	}
	m.SingleShots.WithLabelValues(result).Inc()
}

// RecordEvent counts an emitted event.
func (m *Metrics) RecordEvent(t EventType) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(string(t)).Inc()
}

// RecordDrop counts a dropped event.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// observeSlot tracks a concurrency slot for the duration of fn.
func (m *Metrics) observeSlot(fn func()) {
	if m == nil {
		fn()
		return
	}
	m.InFlightStages.Inc()
	defer m.InFlightStages.Dec()
	fn()
}
