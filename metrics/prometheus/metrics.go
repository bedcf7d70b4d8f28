// Package prometheus provides Prometheus metrics for the capture server.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/phonesplat/capture/capture"
)

const namespace = "capture"

var (
	// framesTotal counts frames accepted across all sessions.
	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames accepted",
		},
	)

	// frameBytesTotal counts accepted image payload bytes.
	frameBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Total image payload bytes accepted",
		},
	)

	// frameLatency is a histogram of capture-to-server latency.
	frameLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_latency_seconds",
			Help:      "Histogram of capture-to-server latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// framesDroppedTotal counts dropped frames by reason.
	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped",
		},
		[]string{"reason"}, // reason: paused, decode_error, write_error
	)

	// connectionsActive is a gauge of currently connected clients.
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently connected clients",
		},
	)

	// sessionsStartedTotal counts session starts.
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of capture sessions started",
		},
	)

	// sessionsEndedTotal counts session finalizations.
	sessionsEndedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of capture sessions finalized",
		},
	)

	// Current-session gauges, refreshed on every stats report.
	sessionFPS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fps",
			Help:      "Average frames per second of the current session",
		},
	)

	sessionBandwidthMbps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bandwidth_mbps",
			Help:      "Ingest bandwidth of the current session in Mbps",
		},
	)

	sessionAvgLatencyMS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avg_latency_ms",
			Help:      "Rolling average capture-to-server latency in milliseconds",
		},
	)

	writerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "writer_queue_depth",
			Help:      "Pending image writes in the disk writer queue",
		},
	)

	// sessionQualityScore is the validation score of the most recently
	// validated session.
	sessionQualityScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_quality_score",
			Help:      "Validation quality score (0-100) of the last validated session",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		framesTotal,
		frameBytesTotal,
		frameLatency,
		framesDroppedTotal,
		connectionsActive,
		sessionsStartedTotal,
		sessionsEndedTotal,
		sessionFPS,
		sessionBandwidthMbps,
		sessionAvgLatencyMS,
		writerQueueDepth,
		sessionQualityScore,
	}
)

// RecordFrame records one accepted frame.
func RecordFrame(sizeBytes int, latencySeconds float64) {
	framesTotal.Inc()
	frameBytesTotal.Add(float64(sizeBytes))
	if latencySeconds >= 0 {
		frameLatency.Observe(latencySeconds)
	}
}

// RecordFrameDropped records one dropped frame.
func RecordFrameDropped(reason string) {
	framesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordConnectionOpened records a client connect.
func RecordConnectionOpened() {
	connectionsActive.Inc()
}

// RecordConnectionClosed records a client disconnect.
func RecordConnectionClosed() {
	connectionsActive.Dec()
}

// RecordSessionStarted records a session start.
func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
}

// RecordSessionEnded records a session finalization.
func RecordSessionEnded() {
	sessionsEndedTotal.Inc()
}

// RecordStats refreshes the current-session gauges from a stats snapshot.
func RecordStats(s capture.Stats) {
	sessionFPS.Set(s.FPS)
	sessionBandwidthMbps.Set(s.BandwidthMbps)
	sessionAvgLatencyMS.Set(s.AvgLatencyMS)
	writerQueueDepth.Set(float64(s.QueueDepth))
}

// RecordQualityScore records the validation score of a finished session.
func RecordQualityScore(score int) {
	sessionQualityScore.Set(float64(score))
}
