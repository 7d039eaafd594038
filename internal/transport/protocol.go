package transport

import "encoding/json"

// Client frame types.
const (
	TypeSessionJoin   = "session:join"
	TypeSessionLeave  = "session:leave"
	TypeCommandSubmit = "command:submit"
	TypeAlarmAck      = "alarm:ack"
)

// TypeAck is the server reply type. Every client frame gets exactly one ack
// echoing its id; a rejection is terminal for that frame, never for the
// connection.
const TypeAck = "ack"

// ClientFrame is one inbound websocket message.
type ClientFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is one outbound websocket message: either an ack or a
// broadcast event.
type ServerFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// AckPayload is the body of an ack frame.
type AckPayload struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// JoinPayload is the body of a session:join frame.
type JoinPayload struct {
	SessionID string `json:"sessionId"`
}

// SubmitPayload is the body of a command:submit frame.
type SubmitPayload struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// AlarmAckPayload is the body of an alarm:ack frame.
type AlarmAckPayload struct {
	AlarmID string `json:"alarmId"`
}
