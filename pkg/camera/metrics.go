package camera

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the frame pipeline.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	StartFailures   prometheus.Counter

	// Frame metrics
	FramesSubmitted prometheus.Counter
	FramesDropped   prometheus.Counter
	FramesDiscarded prometheus.Counter
	FramesProcessed prometheus.Counter

	// Detector metrics
	DetectorErrors   prometheus.Counter
	DetectionLatency prometheus.Histogram

	// Control metrics
	Pictures prometheus.Counter
	Zoom     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with a private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "camsource_active_sessions",
			Help: "Number of camera sessions currently streaming",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_sessions_started_total",
			Help: "Total number of camera sessions started",
		}),
		StartFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_start_failures_total",
			Help: "Total number of failed session starts",
		}),

		FramesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_frames_submitted_total",
			Help: "Total number of frames submitted by the device",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_frames_dropped_total",
			Help: "Frames replaced in the pending slot before detection",
		}),
		FramesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_frames_discarded_total",
			Help: "Frames whose buffer could not be mapped to the pool",
		}),
		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_frames_processed_total",
			Help: "Frames handed to the detector",
		}),

		DetectorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_detector_errors_total",
			Help: "Detector invocations that failed or panicked",
		}),
		DetectionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "camsource_detection_duration_seconds",
			Help:    "Time spent in the detector per frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),

		Pictures: f.NewCounter(prometheus.CounterOpts{
			Name: "camsource_pictures_total",
			Help: "Still pictures delivered",
		}),
		Zoom: f.NewGauge(prometheus.GaugeOpts{
			Name: "camsource_zoom_level",
			Help: "Current zoom index",
		}),
	}
}
