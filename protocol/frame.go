package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FramePacket is one decoded unit of camera + inertial data. It is immutable
// once decoded; the image bytes are an opaque compressed blob passed through
// to storage verbatim.
type FramePacket struct {
	// Timestamp is the client capture time in seconds. Defaults to ReceivedAt
	// when the client did not send one.
	Timestamp float64

	// FrameData holds the compressed image bytes. May be empty; an empty
	// payload is not a decode error.
	FrameData []byte

	// IMU is the inertial sample for this frame, nil when the packet carried
	// none (or an empty record).
	IMU *IMUSample

	// Intrinsics is the camera calibration the client sent with this frame,
	// nil or empty when absent. Stored once per session.
	Intrinsics Intrinsics

	// ReceivedAt is the server receipt time in seconds.
	ReceivedAt float64
}

// LatencyMS reports the network latency in milliseconds. It may be negative
// when client and server clocks disagree; the value is reported, not corrected.
func (p *FramePacket) LatencyMS() float64 {
	return (p.ReceivedAt - p.Timestamp) * 1000
}

// IMUSample is one inertial measurement: 3-axis accelerometer, 3-axis
// gyroscope and a unit quaternion orientation (w first). Missing components
// decode to zero vectors and the identity orientation.
type IMUSample struct {
	Accel       [3]float64
	Gyro        [3]float64
	Orientation [4]float64
}

// Intrinsics is the camera calibration record as received from the client.
// It is persisted verbatim, so unknown keys survive the round trip.
type Intrinsics map[string]any

// Empty reports whether the record carries no fields.
func (i Intrinsics) Empty() bool {
	return len(i) == 0
}

// DecodeFrame decodes a data message into a FramePacket. Missing fields are
// defaulted (timestamp to receivedAt, frame to zero-length bytes, imu and
// intrinsics to empty records); fields present with the wrong shape fail with
// ErrMalformedPacket.
func DecodeFrame(m RawMessage, receivedAt float64) (*FramePacket, error) {
	p := &FramePacket{
		Timestamp:  receivedAt,
		ReceivedAt: receivedAt,
	}

	if raw, ok := m["timestamp"]; ok {
		if err := json.Unmarshal(raw, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedPacket, err)
		}
	}

	if raw, ok := m["frame"]; ok {
		var b64 string
		if err := json.Unmarshal(raw, &b64); err != nil {
			return nil, fmt.Errorf("%w: frame must be a base64 string", ErrMalformedPacket)
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("%w: frame: %v", ErrMalformedPacket, err)
		}
		p.FrameData = data
	}

	if raw, ok := m["imu"]; ok {
		sample, err := decodeIMU(raw)
		if err != nil {
			return nil, err
		}
		p.IMU = sample
	}

	if raw, ok := m["camera_intrinsics"]; ok {
		if err := json.Unmarshal(raw, &p.Intrinsics); err != nil {
			return nil, fmt.Errorf("%w: camera_intrinsics: %v", ErrMalformedPacket, err)
		}
	}

	return p, nil
}

// decodeIMU decodes the imu object. An empty object means "no sample" and
// returns nil; any non-empty object yields a sample with defaults applied.
func decodeIMU(raw json.RawMessage) (*IMUSample, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: imu: %v", ErrMalformedPacket, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sample := &IMUSample{Orientation: [4]float64{1, 0, 0, 0}}
	if v, ok := fields["accel"]; ok {
		if err := json.Unmarshal(v, &sample.Accel); err != nil {
			return nil, fmt.Errorf("%w: imu accel: %v", ErrMalformedPacket, err)
		}
	}
	if v, ok := fields["gyro"]; ok {
		if err := json.Unmarshal(v, &sample.Gyro); err != nil {
			return nil, fmt.Errorf("%w: imu gyro: %v", ErrMalformedPacket, err)
		}
	}
	if v, ok := fields["orientation"]; ok {
		if err := json.Unmarshal(v, &sample.Orientation); err != nil {
			return nil, fmt.Errorf("%w: imu orientation: %v", ErrMalformedPacket, err)
		}
	}
	return sample, nil
}
