// Package protocol defines the JSON wire format spoken between the mobile
// capture client and the server, and the decoding of inbound messages into
// frame samples and control requests.
//
// Every inbound message is a JSON object. Messages carrying image content
// ("data" messages) hold a base64-encoded frame plus optional timestamp, IMU
// and camera-intrinsics fields; control messages are tagged
// {"type":"control","command":...}. Decoding is pure: nothing in this package
// touches the network or the disk.
package protocol

import (
	"encoding/json"
	"errors"
)

// MessageType tags a wire message. Inbound messages are frame or control;
// server replies are status, ack or error.
type MessageType string

const (
	MessageTypeFrame   MessageType = "frame"
	MessageTypeControl MessageType = "control"
	MessageTypeStatus  MessageType = "status"
	MessageTypeError   MessageType = "error"
	MessageTypeAck     MessageType = "ack"
)

// ControlCommand names a control operation requested by a client.
type ControlCommand string

const (
	CommandStartSession ControlCommand = "start_session"
	CommandEndSession   ControlCommand = "end_session"
	CommandPause        ControlCommand = "pause"
	CommandResume       ControlCommand = "resume"
	CommandGetStatus    ControlCommand = "get_status"
	CommandPing         ControlCommand = "ping"
)

// CommandPong tags the reply to a ping.
const CommandPong ControlCommand = "pong"

// ErrMalformedPacket indicates a message that parsed as JSON but whose fields
// cannot be decoded into a frame sample or control request. Malformed packets
// are dropped by the caller; they never terminate a connection.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// RawMessage is a parsed but not yet decoded JSON message. Keeping the fields
// raw lets classification distinguish an absent key from an empty value.
type RawMessage map[string]json.RawMessage

// Classify determines how a message should be handled. A message with no type
// tag defaults to a data message; any message carrying a "frame" key is a data
// message regardless of its tag. Unknown types are returned verbatim so the
// caller can log them.
func Classify(m RawMessage) MessageType {
	t := MessageTypeFrame
	if raw, ok := m["type"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			t = MessageType("")
		} else {
			t = MessageType(s)
		}
	}
	if t == MessageTypeFrame {
		return MessageTypeFrame
	}
	if _, ok := m["frame"]; ok {
		return MessageTypeFrame
	}
	return t
}
