// Package metrics exposes the control loop's state as Prometheus metrics on a
// private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "nerdy_holder"

// Recorder owns the registry and every loop metric.
type Recorder struct {
	registry *prometheus.Registry

	systemMemory prometheus.Gauge
	target       prometheus.Gauge
	heldMB       prometheus.Gauge
	chunks       prometheus.Gauge
	bestScore    prometheus.Gauge
	momentum     prometheus.Gauge
	volatility   prometheus.Gauge

	decisions       *prometheus.CounterVec
	adjustedMB      *prometheus.CounterVec
	optimizerEvents *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
}

// NewRecorder creates a Recorder with Go and process collectors registered.
// runID is attached to every loop metric as a constant label.
func NewRecorder(runID string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	labels := prometheus.Labels{"run_id": runID}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}
	r := &Recorder{
		registry:     reg,
		systemMemory: gauge("system_memory_percent", "Host memory utilization at the last sample."),
		target:       gauge("target_percent", "Current utilization target."),
		heldMB:       gauge("held_megabytes", "Memory held by the holder."),
		chunks:       gauge("chunks", "Number of chunks held."),
		bestScore:    gauge("best_score", "Composite best optimizer score."),
		momentum:     gauge("momentum", "Fast minus slow utilization average."),
		volatility:   gauge("volatility", "Population std dev of recent utilization samples."),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total", Help: "Decision cycles by outcome.", ConstLabels: labels,
		}, []string{"kind"}),
		adjustedMB: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "adjusted_megabytes_total", Help: "Megabytes allocated or released.", ConstLabels: labels,
		}, []string{"direction"}),
		optimizerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "optimizer_events_total", Help: "Optimizer steps by event.", ConstLabels: labels,
		}, []string{"event"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "cycle_duration_seconds",
			Help:        "Wall time spent in one decision cycle.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	reg.MustRegister(
		r.systemMemory, r.target, r.heldMB, r.chunks, r.bestScore, r.momentum, r.volatility,
		r.decisions, r.adjustedMB, r.optimizerEvents, r.cycleDuration,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Gauges is the loop state published after each cycle.
type Gauges struct {
	SystemMemory float64
	Target       float64
	HeldMB       float64
	Chunks       int
	BestScore    float64
	Momentum     float64
	Volatility   float64
}

func (r *Recorder) SetGauges(g Gauges) {
	r.systemMemory.Set(g.SystemMemory)
	r.target.Set(g.Target)
	r.heldMB.Set(g.HeldMB)
	r.chunks.Set(float64(g.Chunks))
	r.bestScore.Set(g.BestScore)
	r.momentum.Set(g.Momentum)
	r.volatility.Set(g.Volatility)
}

func (r *Recorder) Decision(kind string) {
	r.decisions.WithLabelValues(kind).Inc()
}

// Adjusted counts megabytes moved; direction is "allocate" or "release".
func (r *Recorder) Adjusted(direction string, mb int) {
	if mb <= 0 {
		return
	}
	r.adjustedMB.WithLabelValues(direction).Add(float64(mb))
}

func (r *Recorder) OptimizerEvent(event string) {
	r.optimizerEvents.WithLabelValues(event).Inc()
}

func (r *Recorder) CycleDuration(d time.Duration) {
	r.cycleDuration.Observe(d.Seconds())
}
