// Package metrics holds the Prometheus instruments shared by the host and
// viewer pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "remotedesk"

// Drop reasons for InputDropped.
const (
	DropNotReady  = "not_ready"
	DropClosed    = "closed"
	DropQueueFull = "queue_full"
	DropNoFrame   = "no_frame"
	DropOutside   = "outside"
	DropUnmapped  = "unmapped"
)

// Metrics is the set of instruments. Host-only and viewer-only instruments
// live side by side; each process simply leaves the other half at zero.
type Metrics struct {
	FramesCaptured prometheus.Counter
	FramesSent     prometheus.Counter
	CaptureErrors  prometheus.Counter
	EncodeErrors   prometheus.Counter
	FrameLatency   prometheus.Histogram

	ControlEvents *prometheus.CounterVec
	ControlErrors *prometheus.CounterVec

	ActiveChannels   *prometheus.GaugeVec
	RejectedChannels prometheus.Counter

	FramesReceived prometheus.Counter
	DecodeErrors   prometheus.Counter
	FramesDropped  prometheus.Counter
	FramesRendered prometheus.Counter

	InputSent    *prometheus.CounterVec
	InputDropped *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg uses a private
// registry, which is what tests and embedded callers usually want.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "frames_captured_total",
			Help:      "Screen captures taken by the frame pipeline",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "frames_sent_total",
			Help:      "Encoded frames written to the video channel",
		}),
		CaptureErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "capture_errors_total",
			Help:      "Capture ticks skipped because the screen grab failed",
		}),
		EncodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "encode_errors_total",
			Help:      "Capture ticks skipped because encoding failed",
		}),
		FrameLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "frame_latency_seconds",
			Help:      "Time from screen grab to the frame being written",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
		ControlEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "control_events_total",
			Help:      "Control events dispatched to the injector",
		}, []string{"type"}),
		ControlErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "control_errors_total",
			Help:      "Control messages that failed to decode or inject",
		}, []string{"reason"}),
		ActiveChannels: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_channels",
			Help:      "Open logical channels by kind",
		}, []string{"channel"}),
		RejectedChannels: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "rejected_connections_total",
			Help:      "Connections closed for using an unknown routing key",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the video channel",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "decode_errors_total",
			Help:      "Video messages that could not be decoded",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "frames_dropped_total",
			Help:      "Undisplayed frames discarded by the frame buffer or render loop",
		}),
		FramesRendered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "frames_rendered_total",
			Help:      "Frames handed to the render surface",
		}),
		InputSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "input_events_sent_total",
			Help:      "Control events written to the control channel",
		}, []string{"type"}),
		InputDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "input_events_dropped_total",
			Help:      "Local input events that were not forwarded",
		}, []string{"reason"}),
	}
}
