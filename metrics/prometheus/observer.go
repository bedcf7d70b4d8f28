package prometheus

import (
	"github.com/phonesplat/capture/capture"
	"github.com/phonesplat/capture/protocol"
)

// Observer adapts the capture server's notification hooks to the package
// metrics. Register its methods with the server's On* registration calls.
type Observer struct{}

// NewObserver creates a new Observer.
func NewObserver() *Observer {
	return &Observer{}
}

// FrameReceived records an accepted frame.
func (o *Observer) FrameReceived(p *protocol.FramePacket) {
	RecordFrame(len(p.FrameData), p.LatencyMS()/1000)
}

// FrameDropped records a dropped frame by reason.
func (o *Observer) FrameDropped(clientID, reason string) {
	RecordFrameDropped(reason)
}

// ClientConnected records a client connect.
func (o *Observer) ClientConnected(clientID string) {
	RecordConnectionOpened()
}

// ClientDisconnected records a client disconnect.
func (o *Observer) ClientDisconnected(clientID string) {
	RecordConnectionClosed()
}

// SessionStarted records a session start.
func (o *Observer) SessionStarted(sessionID string) {
	RecordSessionStarted()
}

// SessionEnded records a session finalization and publishes its final stats.
func (o *Observer) SessionEnded(sessionID string, final capture.Stats) {
	RecordSessionEnded()
	RecordStats(final)
}

// StatsReported refreshes the current-session gauges.
func (o *Observer) StatsReported(stats capture.Stats) {
	RecordStats(stats)
}
