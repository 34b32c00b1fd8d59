// Package telemetry exposes the engine's prometheus instrumentation. A single
// Metrics value is shared by the controllers; construction registers every
// collector on the supplied registerer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine collectors
type Metrics struct {
	LevelReloads    *prometheus.CounterVec
	LevelLoadErrors *prometheus.CounterVec
	LevelRetries    prometheus.Counter
	FatalErrors     prometheus.Counter
	RedundantSwitch prometheus.Counter
	BufferQueueLen  *prometheus.GaugeVec
	BufferOpErrors  *prometheus.CounterVec
	CuesDelivered   *prometheus.CounterVec
	CuesDropped     *prometheus.CounterVec
	PlaybackRate    prometheus.Gauge
}

// New creates and registers the engine metrics. A nil registerer falls back
// to the default prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LevelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "level",
			Name:      "reloads_total",
			Help:      "Live playlist reloads, by outcome (updated or stale).",
		}, []string{"outcome"}),
		LevelLoadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "level",
			Name:      "load_errors_total",
			Help:      "Level and fragment load errors, by error detail.",
		}, []string{"details"}),
		LevelRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "level",
			Name:      "retries_total",
			Help:      "Scheduled level reload retries after a load error.",
		}),
		FatalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "level",
			Name:      "fatal_errors_total",
			Help:      "Errors promoted to fatal after retry exhaustion.",
		}),
		RedundantSwitch: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "level",
			Name:      "redundant_url_switches_total",
			Help:      "Failovers to a redundant URL of the same level.",
		}),
		BufferQueueLen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hls_player",
			Subsystem: "buffer",
			Name:      "queue_length",
			Help:      "Pending operations per source buffer.",
		}, []string{"kind"}),
		BufferOpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "buffer",
			Name:      "operation_errors_total",
			Help:      "Buffer operations that failed synchronously.",
		}, []string{"kind"}),
		CuesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "timeline",
			Name:      "cues_delivered_total",
			Help:      "Caption cues delivered per track.",
		}, []string{"track"}),
		CuesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hls_player",
			Subsystem: "timeline",
			Name:      "cues_dropped_total",
			Help:      "Caption cues dropped by overlap de-duplication.",
		}, []string{"track"}),
		PlaybackRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hls_player",
			Subsystem: "rate",
			Name:      "playback_rate",
			Help:      "Playback rate last applied by the latency controller.",
		}),
	}
}
