package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlRequest is a decoded control message.
type ControlRequest struct {
	Command ControlCommand

	// SessionID is the explicit session id for start_session, empty to let
	// the store generate one.
	SessionID string

	// Timestamp is the client clock for ping, echoed back for client-side
	// clock-offset estimation. The server never interprets it. Clients send
	// it as client_time; a bare timestamp key is accepted too.
	Timestamp float64
}

// DecodeControl decodes a control message. The command may be empty or
// unrecognized; dispatching (and the resulting error reply) is the caller's
// concern.
func DecodeControl(m RawMessage) (*ControlRequest, error) {
	req := &ControlRequest{}

	if raw, ok := m["command"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: command must be a string", ErrMalformedPacket)
		}
		req.Command = ControlCommand(s)
	}

	if raw, ok := m["session_id"]; ok {
		if err := json.Unmarshal(raw, &req.SessionID); err != nil {
			return nil, fmt.Errorf("%w: session_id must be a string", ErrMalformedPacket)
		}
	}

	raw, ok := m["client_time"]
	if !ok {
		raw, ok = m["timestamp"]
	}
	if ok {
		if err := json.Unmarshal(raw, &req.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: client_time: %v", ErrMalformedPacket, err)
		}
	}

	return req, nil
}
