package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMessage(t *testing.T, s string) RawMessage {
	t.Helper()
	var m RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		json string
		want MessageType
	}{
		{
			name: "no type defaults to frame",
			json: `{"timestamp": 1.5}`,
			want: MessageTypeFrame,
		},
		{
			name: "explicit frame type",
			json: `{"type": "frame", "frame": "aGk="}`,
			want: MessageTypeFrame,
		},
		{
			name: "frame key without type",
			json: `{"frame": "aGk="}`,
			want: MessageTypeFrame,
		},
		{
			name: "control",
			json: `{"type": "control", "command": "ping"}`,
			want: MessageTypeControl,
		},
		{
			name: "frame key wins over control tag",
			json: `{"type": "control", "frame": "aGk="}`,
			want: MessageTypeFrame,
		},
		{
			name: "unknown type passes through",
			json: `{"type": "status"}`,
			want: MessageTypeStatus,
		},
		{
			name: "non-string type",
			json: `{"type": 5}`,
			want: MessageType(""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(rawMessage(t, tt.json)))
		})
	}
}

func TestDecodeFrame_Defaults(t *testing.T) {
	p, err := DecodeFrame(rawMessage(t, `{}`), 42.5)
	require.NoError(t, err)

	assert.Equal(t, 42.5, p.Timestamp)
	assert.Equal(t, 42.5, p.ReceivedAt)
	assert.Empty(t, p.FrameData)
	assert.Nil(t, p.IMU)
	assert.True(t, p.Intrinsics.Empty())
}

func TestDecodeFrame_Full(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	m := rawMessage(t, `{
		"timestamp": 10.25,
		"frame": "`+payload+`",
		"imu": {
			"accel": [0.1, 0.2, 0.3],
			"gyro": [1, 2, 3],
			"orientation": [0.5, 0.5, 0.5, 0.5]
		},
		"camera_intrinsics": {"fx": 1000, "fy": 1000, "cx": 360, "cy": 640, "width": 720, "height": 1280}
	}`)

	p, err := DecodeFrame(m, 10.5)
	require.NoError(t, err)

	assert.Equal(t, 10.25, p.Timestamp)
	assert.Equal(t, 10.5, p.ReceivedAt)
	assert.Equal(t, []byte("jpeg-bytes"), p.FrameData)

	require.NotNil(t, p.IMU)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, p.IMU.Accel)
	assert.Equal(t, [3]float64{1, 2, 3}, p.IMU.Gyro)
	assert.Equal(t, [4]float64{0.5, 0.5, 0.5, 0.5}, p.IMU.Orientation)

	require.False(t, p.Intrinsics.Empty())
	assert.EqualValues(t, 1000, p.Intrinsics["fx"])
	assert.EqualValues(t, 720, p.Intrinsics["width"])
}

func TestDecodeFrame_EmptyPayload(t *testing.T) {
	// An empty frame string decodes to zero-length bytes, not an error.
	p, err := DecodeFrame(rawMessage(t, `{"frame": ""}`), 1)
	require.NoError(t, err)
	assert.Empty(t, p.FrameData)
}

func TestDecodeFrame_EmptyIMU(t *testing.T) {
	p, err := DecodeFrame(rawMessage(t, `{"imu": {}}`), 1)
	require.NoError(t, err)
	assert.Nil(t, p.IMU)
}

func TestDecodeFrame_PartialIMU(t *testing.T) {
	p, err := DecodeFrame(rawMessage(t, `{"imu": {"accel": [1, 1, 1]}}`), 1)
	require.NoError(t, err)

	require.NotNil(t, p.IMU)
	assert.Equal(t, [3]float64{1, 1, 1}, p.IMU.Accel)
	assert.Equal(t, [3]float64{0, 0, 0}, p.IMU.Gyro)
	// Missing orientation defaults to the identity quaternion.
	assert.Equal(t, [4]float64{1, 0, 0, 0}, p.IMU.Orientation)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "invalid base64", json: `{"frame": "!!! not base64 !!!"}`},
		{name: "frame not a string", json: `{"frame": 123}`},
		{name: "timestamp not a number", json: `{"timestamp": "abc"}`},
		{name: "imu not an object", json: `{"imu": "sideways"}`},
		{name: "accel not an array", json: `{"imu": {"accel": 7}}`},
		{name: "intrinsics not an object", json: `{"camera_intrinsics": [1, 2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(rawMessage(t, tt.json), 1)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestFramePacket_LatencyMS(t *testing.T) {
	p := &FramePacket{Timestamp: 10.0, ReceivedAt: 10.05}
	assert.InDelta(t, 50.0, p.LatencyMS(), 1e-9)

	// Clock skew can make latency negative; it is reported, not corrected.
	p = &FramePacket{Timestamp: 11.0, ReceivedAt: 10.0}
	assert.InDelta(t, -1000.0, p.LatencyMS(), 1e-9)
}

func TestDecodeControl(t *testing.T) {
	req, err := DecodeControl(rawMessage(t, `{"type":"control","command":"start_session","session_id":"scan_01"}`))
	require.NoError(t, err)
	assert.Equal(t, CommandStartSession, req.Command)
	assert.Equal(t, "scan_01", req.SessionID)

	req, err = DecodeControl(rawMessage(t, `{"type":"control","command":"ping","client_time":123.456}`))
	require.NoError(t, err)
	assert.Equal(t, CommandPing, req.Command)
	assert.Equal(t, 123.456, req.Timestamp)

	// A bare timestamp key is accepted when client_time is absent.
	req, err = DecodeControl(rawMessage(t, `{"type":"control","command":"ping","timestamp":7.5}`))
	require.NoError(t, err)
	assert.Equal(t, 7.5, req.Timestamp)
}

func TestDecodeControl_MissingCommand(t *testing.T) {
	req, err := DecodeControl(rawMessage(t, `{"type":"control"}`))
	require.NoError(t, err)
	assert.Equal(t, ControlCommand(""), req.Command)
}

func TestDecodeControl_Malformed(t *testing.T) {
	_, err := DecodeControl(rawMessage(t, `{"type":"control","command":7}`))
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = DecodeControl(rawMessage(t, `{"type":"control","command":"start_session","session_id":9}`))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
