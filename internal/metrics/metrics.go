// Package metrics exposes the host's flow-control and resource measurements
// as Prometheus collectors. A nil *Recorder is valid and records nothing, so
// components can run without metrics wired in.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "termhost"

// Recorder holds every collector the host updates.
type Recorder struct {
	registry *prometheus.Registry

	FlowActions   *prometheus.CounterVec
	PauseDuration *prometheus.HistogramVec
	DroppedBytes  *prometheus.CounterVec
	PendingBytes  prometheus.Gauge
	ShardUtil     *prometheus.GaugeVec

	Terminals   prometheus.Gauge
	Transitions *prometheus.CounterVec

	Throttled        prometheus.Gauge
	HeapUtilization  prometheus.Gauge
	ThrottleDuration prometheus.Histogram

	Requests *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		FlowActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_actions_total",
				Help:      "Flow-control actions taken on terminal output streams",
			},
			[]string{"action", "path"},
		),
		PauseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flow_pause_duration_seconds",
				Help:      "Time a terminal spent paused before resuming or suspending",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		),
		DroppedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_dropped_bytes_total",
				Help:      "Output bytes dropped from the visual stream",
			},
			[]string{"cause"},
		),
		PendingBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "flow_pending_bytes",
				Help:      "Output bytes queued for ring space across all terminals",
			},
		),
		ShardUtil: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transport_shard_utilization_percent",
				Help:      "Last observed utilization of each ring shard",
			},
			[]string{"shard"},
		),
		Terminals: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "terminals",
				Help:      "Live terminals",
			},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_transitions_total",
				Help:      "Activity state transitions",
			},
			[]string{"state", "trigger"},
		),
		Throttled: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "governor_throttled",
				Help:      "1 while the resource governor holds every terminal paused",
			},
		),
		HeapUtilization: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "governor_heap_utilization_percent",
				Help:      "Heap utilization sampled by the resource governor",
			},
		),
		ThrottleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "governor_throttle_duration_seconds",
				Help:      "Duration of each governor engagement",
				Buckets:   []float64{.5, 1, 2, 4, 6, 8, 10, 15},
			},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Host requests handled",
			},
			[]string{"type", "status"},
		),
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// FlowAction counts a pause, resume, force-resume, suspend, wake or drop.
func (r *Recorder) FlowAction(action, path string) {
	if r == nil {
		return
	}
	r.FlowActions.WithLabelValues(action, path).Inc()
}

// Paused observes how long a pause lasted and how it ended.
func (r *Recorder) Paused(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.PauseDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Dropped counts bytes removed from the visual stream.
func (r *Recorder) Dropped(cause string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.DroppedBytes.WithLabelValues(cause).Add(float64(n))
}

// SetPending sets the global pending byte gauge.
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.PendingBytes.Set(float64(n))
}

// ObserveShard records a shard's utilization.
func (r *Recorder) ObserveShard(shard string, utilization float64) {
	if r == nil {
		return
	}
	r.ShardUtil.WithLabelValues(shard).Set(utilization)
}

// SetTerminals sets the live terminal gauge.
func (r *Recorder) SetTerminals(n int) {
	if r == nil {
		return
	}
	r.Terminals.Set(float64(n))
}

// Transition counts an activity transition.
func (r *Recorder) Transition(state, trigger string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(state, trigger).Inc()
}

// Governor records a governor sample and engagement state.
func (r *Recorder) Governor(utilization float64, engaged bool) {
	if r == nil {
		return
	}
	r.HeapUtilization.Set(utilization)
	if engaged {
		r.Throttled.Set(1)
	} else {
		r.Throttled.Set(0)
	}
}

// ThrottleReleased observes the duration of a governor engagement.
func (r *Recorder) ThrottleReleased(d time.Duration) {
	if r == nil {
		return
	}
	r.ThrottleDuration.Observe(d.Seconds())
}

// Request counts a handled host request.
func (r *Recorder) Request(requestType, status string) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(requestType, status).Inc()
}
