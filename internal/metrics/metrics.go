// Package metrics exposes the server's per-tick counters to Prometheus.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/themuffinator/q2repro-test-sub001/internal/sv"
)

// Config configures the recorder.
type Config struct {
	Namespace string
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures the recorder.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

// WithRegistry sets the registry metrics are registered with.
func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}

// Recorder implements sv.Recorder.
type Recorder struct {
	framesSent        prometheus.Counter
	framesSuppressed  prometheus.Counter
	frameBytes        prometheus.Histogram
	entityOverflow    prometheus.Counter
	frameTruncations  prometheus.Counter
	entitiesOmitted   prometheus.Counter
	unreliableDropped *prometheus.CounterVec
	reliableBytes     prometheus.Counter
	connections       prometheus.Gauge
	drops             *prometheus.CounterVec
}

var _ sv.Recorder = (*Recorder)(nil)

// New registers the metrics and returns the recorder. Registering twice
// with the same registry panics.
func New(opts ...Option) *Recorder {
	cfg := Config{Namespace: "q2sync", Registry: prometheus.DefaultRegisterer}
	for _, o := range opts {
		o(&cfg)
	}
	f := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Recorder{
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_sent_total",
			Help:      "Frames written to clients",
		}),
		framesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_suppressed_total",
			Help:      "Frames skipped because a client was over its rate",
		}),
		frameBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "frame_bytes",
			Help:      "Size of each frame packet in bytes",
			Buckets:   []float64{32, 64, 128, 256, 512, 1024, 1400, 4096, 16384, 32768},
		}),
		entityOverflow: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "entity_overflow_total",
			Help:      "Visible entities left out because a frame reached the entity limit",
		}),
		frameTruncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frame_truncations_total",
			Help:      "Frames shortened to fit the packet budget",
		}),
		entitiesOmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "entities_omitted_total",
			Help:      "Entity records held back by frame truncation",
		}),
		unreliableDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "unreliable_dropped_total",
			Help:      "Unreliable messages discarded by category",
		}, []string{"category"}),
		reliableBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reliable_bytes_total",
			Help:      "Reliable payload bytes transmitted",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections",
			Help:      "Connected clients",
		}),
		drops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "drops_total",
			Help:      "Client drops by reason",
		}, []string{"reason"}),
	}
}

func (r *Recorder) FrameSent(bytes int) {
	r.framesSent.Inc()
	r.frameBytes.Observe(float64(bytes))
}

func (r *Recorder) FrameSuppressed() { r.framesSuppressed.Inc() }

func (r *Recorder) EntityOverflow(dropped int) { r.entityOverflow.Add(float64(dropped)) }

func (r *Recorder) FrameTruncated(omitted int) {
	r.frameTruncations.Inc()
	r.entitiesOmitted.Add(float64(omitted))
}

func (r *Recorder) UnreliableDropped(cat sv.Category, n int) {
	r.unreliableDropped.WithLabelValues(cat.String()).Add(float64(n))
}

func (r *Recorder) ReliableBytes(n int) { r.reliableBytes.Add(float64(n)) }

func (r *Recorder) Connections(n int) { r.connections.Set(float64(n)) }

// ClientDropped counts a drop. Protocol violations carry free-form detail,
// so they share one label value.
func (r *Recorder) ClientDropped(reason string) {
	r.drops.WithLabelValues(reasonLabel(reason)).Inc()
}

func reasonLabel(reason string) string {
	switch reason {
	case sv.ReasonReliableOverflow, sv.ReasonDisconnected, sv.ReasonShutdown, sv.ReasonKicked:
		return reason
	}
	if strings.HasPrefix(reason, "protocol violation") {
		return "protocol violation"
	}
	return "other"
}
