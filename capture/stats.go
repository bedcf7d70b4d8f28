package capture

import (
	"math"
	"time"

	"github.com/phonesplat/capture/protocol"
)

// latencyWindowSize bounds the rolling latency average. Older samples are
// dropped at insert time so the aggregate stays O(1) in memory regardless of
// session length.
const latencyWindowSize = 100

// Stats is a point-in-time snapshot of a capture session. It serializes to
// the wire shape carried by acks and status replies and to the
// session_stats.json record. All float fields are rounded to two decimals.
type Stats struct {
	SessionID     string  `json:"session_id"`
	FrameCount    int     `json:"frame_count"`
	DurationSec   float64 `json:"duration_sec"`
	FPS           float64 `json:"fps"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	BandwidthMbps float64 `json:"bandwidth_mbps"`
	TotalMB       float64 `json:"total_mb"`
	QueueDepth    int     `json:"queue_size"`
}

// sessionStats is the mutable aggregate behind Stats. All access is guarded
// by the owning Store's mutex.
type sessionStats struct {
	sessionID     string
	startTime     time.Time
	frameCount    int
	totalBytes    int64
	lastFrameTime float64

	latencies    [latencyWindowSize]float64
	latencyIdx   int
	latencyCount int
}

func newSessionStats(sessionID string) *sessionStats {
	return &sessionStats{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// record folds one accepted frame into the aggregate.
func (s *sessionStats) record(p *protocol.FramePacket) {
	s.frameCount++
	s.totalBytes += int64(len(p.FrameData))
	s.lastFrameTime = p.Timestamp
	s.addLatency(p.LatencyMS())
}

// addLatency inserts a sample into the ring, overwriting the oldest once the
// window is full.
func (s *sessionStats) addLatency(ms float64) {
	s.latencies[s.latencyIdx] = ms
	s.latencyIdx = (s.latencyIdx + 1) % latencyWindowSize
	if s.latencyCount < latencyWindowSize {
		s.latencyCount++
	}
}

func (s *sessionStats) avgLatencyMS() float64 {
	if s.latencyCount == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < s.latencyCount; i++ {
		sum += s.latencies[i]
	}
	return sum / float64(s.latencyCount)
}

// snapshot derives the public Stats view. queueDepth is the disk writer's
// pending count at snapshot time.
func (s *sessionStats) snapshot(queueDepth int) Stats {
	duration := time.Since(s.startTime).Seconds()

	var fps, bandwidth float64
	if duration > 0 {
		fps = float64(s.frameCount) / duration
		bandwidth = float64(s.totalBytes) * 8 / (duration * 1e6)
	}

	return Stats{
		SessionID:     s.sessionID,
		FrameCount:    s.frameCount,
		DurationSec:   round2(duration),
		FPS:           round2(fps),
		AvgLatencyMS:  round2(s.avgLatencyMS()),
		BandwidthMbps: round2(bandwidth),
		TotalMB:       round2(float64(s.totalBytes) / (1024 * 1024)),
		QueueDepth:    queueDepth,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
