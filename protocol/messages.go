package protocol

// Server reply shapes. The stats payload is typed as any so the wire layer
// stays independent of the session package; callers pass the snapshot value
// and it serializes with its own json tags.

// Welcome is the status message sent once on connect.
type Welcome struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"client_id"`
	Message    string      `json:"message"`
	ServerTime float64     `json:"server_time"`
}

// Ack acknowledges received frames. Sent on every 10th frame of a connection
// with the current stats snapshot attached.
type Ack struct {
	Type       MessageType `json:"type"`
	FrameCount int         `json:"frame_count"`
	Stats      any         `json:"stats"`
}

// Pong is the immediate reply to a ping control message.
type Pong struct {
	Type       MessageType    `json:"type"`
	Command    ControlCommand `json:"command"`
	ServerTime float64        `json:"server_time"`
	ClientTime float64        `json:"client_time"`
}

// StatusReply answers session control commands and carries broadcast notices.
type StatusReply struct {
	Type      MessageType    `json:"type"`
	Command   ControlCommand `json:"command,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Stats     any            `json:"stats,omitempty"`
}

// ServerStatus answers get_status with the live view of the server.
// Session is empty when no capture session is current.
type ServerStatus struct {
	Type    MessageType    `json:"type"`
	Command ControlCommand `json:"command"`
	Stats   any            `json:"stats"`
	Clients int            `json:"clients"`
	Session string         `json:"session"`
}

// ErrorReply reports a protocol error back to the originating connection.
// The connection stays open.
type ErrorReply struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}
