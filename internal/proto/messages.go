// Package proto defines the framed message protocol spoken between the
// browser client and the orchestrator, and the validation rules applied to
// inbound frames before any state changes.
package proto

import "time"

// Inbound message types. The set is closed: the multiplexer matches
// exhaustively and logs anything else.
const (
	TypeCreateSession = "create-session"
	TypeInput         = "input"
	TypeResize        = "resize"
	TypePing          = "ping"
)

// Outbound message types.
const (
	TypeSessionCreated    = "session-created"
	TypeOutput            = "output"
	TypeError             = "error"
	TypePong              = "pong"
	TypeTerminationNotice = "termination-notice"
	TypeSessionEnded      = "session-ended"
)

// Inbound is the envelope for client frames. Which fields are meaningful
// depends on Type; validation is per-type.
type Inbound struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	Data        string `json:"data,omitempty"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	Shell       string `json:"shell,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Outbound is the envelope for orchestrator frames.
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func SessionCreated(sessionID string) Outbound {
	return Outbound{Type: TypeSessionCreated, SessionID: sessionID, Timestamp: now()}
}

func Output(sessionID string, data string) Outbound {
	return Outbound{Type: TypeOutput, SessionID: sessionID, Data: data}
}

func Error(detail string) Outbound {
	return Outbound{Type: TypeError, Error: detail, Timestamp: now()}
}

func Pong() Outbound {
	return Outbound{Type: TypePong, Timestamp: now()}
}

func TerminationNotice(sessionID, reason string) Outbound {
	return Outbound{Type: TypeTerminationNotice, SessionID: sessionID, Reason: reason, Timestamp: now()}
}

func SessionEnded(sessionID, reason string) Outbound {
	return Outbound{Type: TypeSessionEnded, SessionID: sessionID, Reason: reason, Timestamp: now()}
}
