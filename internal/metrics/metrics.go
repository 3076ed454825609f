// Package metrics holds the daemon's Prometheus instruments.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robot-control/robotd/internal/command"
	"github.com/robot-control/robotd/internal/estimator"
)

const namespace = "robotd"

// Metrics records loop timing, scheduling and fusion outcomes.
type Metrics struct {
	tickSeconds   prometheus.Histogram
	overruns      prometheus.Counter
	commands      *prometheus.CounterVec
	vision        *prometheus.CounterVec
	sensorFaults  *prometheus.CounterVec
	scheduled     prometheus.Gauge
	mode          *prometheus.GaugeVec
	droppedEvents *prometheus.CounterVec
}

// New registers the instruments with reg. Tests pass a fresh registry;
// the daemon passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "tick_seconds",
			Help:      "Time spent in one control loop tick",
			Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.015, 0.02, 0.03, 0.05, 0.1},
		}),
		overruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "overruns_total",
			Help:      "Ticks that took longer than the overrun threshold",
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command lifecycle transitions by event",
		}, []string{"event"}),
		vision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_total",
			Help:      "Vision measurements by outcome and rejection reason",
		}, []string{"outcome", "reason"}),
		sensorFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_faults_total",
			Help:      "Hardware read and write faults by source",
		}, []string{"source"}),
		scheduled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_commands",
			Help:      "Commands scheduled after the last tick, defaults included",
		}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "1 for the current robot mode",
		}, []string{"mode"}),
		droppedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_samples_total",
			Help:      "Samples discarded because a consumer fell behind",
		}, []string{"sink"}),
	}
}

// ObserveTick records one tick's duration and counts it as an overrun when
// it exceeds limit.
func (m *Metrics) ObserveTick(d, limit time.Duration) {
	m.tickSeconds.Observe(d.Seconds())
	if d > limit {
		m.overruns.Inc()
	}
}

// CommandEvent counts a scheduler lifecycle event.
func (m *Metrics) CommandEvent(e command.Event) {
	m.commands.WithLabelValues(string(e.Kind)).Inc()
}

// Vision counts a measurement; err is the estimator's verdict.
func (m *Metrics) Vision(err error) {
	if err == nil {
		m.vision.WithLabelValues("accepted", "").Inc()
		return
	}
	reason := "error"
	var rej *estimator.RejectError
	if errors.As(err, &rej) {
		reason = string(rej.Reason)
	}
	m.vision.WithLabelValues("rejected", reason).Inc()
}

// SensorFault counts a hardware fault from source.
func (m *Metrics) SensorFault(source string) {
	m.sensorFaults.WithLabelValues(source).Inc()
}

// SetScheduled sets the number of scheduled commands.
func (m *Metrics) SetScheduled(n int) {
	m.scheduled.Set(float64(n))
}

// SetMode marks current as the active mode among all.
func (m *Metrics) SetMode(current string, all ...string) {
	for _, mode := range all {
		v := 0.0
		if mode == current {
			v = 1
		}
		m.mode.WithLabelValues(mode).Set(v)
	}
}

// AddDropped adds n discarded samples for sink.
func (m *Metrics) AddDropped(sink string, n int64) {
	if n > 0 {
		m.droppedEvents.WithLabelValues(sink).Add(float64(n))
	}
}
