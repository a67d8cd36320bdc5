// Package realtime implements the transport layer for Tether's live session
// channel: a single managed WebSocket connection with automatic reconnection,
// an application-level heartbeat, and typed publish/subscribe fan-out.
//
// # Wire Protocol Overview
//
// All traffic in both directions uses a JSON envelope:
//
//	{
//	    "type": "message_type",
//	    "data": { ... },          // Optional, type-specific payload
//	    "timestamp": "...",       // RFC 3339, stamped by the sender
//	    "session_id": "..."       // Optional, scopes the envelope to a session
//	}
//
// The Manager knows nothing about session semantics; it parses envelopes and
// fans them out to subscribers by type. Session filtering and typed decoding
// live in the session package.
package realtime

import (
	"encoding/json"
	"time"
)

// Envelope is the unit of inbound and outbound traffic.
type Envelope struct {
	Type      string          `json:"type"`                 // Message type (see MsgType* constants)
	Data      json.RawMessage `json:"data,omitempty"`       // Type-specific payload
	Timestamp string          `json:"timestamp"`            // RFC 3339, stamped on send
	SessionID string          `json:"session_id,omitempty"` // Session scope, if any
}

// ParseEnvelope parses raw message bytes into an Envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Time returns the envelope timestamp as a time.Time.
// The zero time is returned when the timestamp is missing or malformed.
func (e Envelope) Time() time.Time {
	t, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

const (
	// MsgTypeSubscribeSession declares the session's event interests.
	// Sent once after every (re)connect. Data: { "events": []string }
	MsgTypeSubscribeSession = "subscribe_session"

	// MsgTypeTypingIndicator signals that the user started or stopped typing.
	// Data: { "is_typing": bool }
	MsgTypeTypingIndicator = "typing_indicator"

	// MsgTypeCancelWorkflow requests cancellation of the running workflow.
	MsgTypeCancelWorkflow = "cancel_workflow"

	// MsgTypeGetWorkflowStatus requests a one-shot workflow status report.
	MsgTypeGetWorkflowStatus = "get_workflow_status"

	// MsgTypePing is the periodic heartbeat envelope.
	MsgTypePing = "ping"
)

// =============================================================================
// Server → Client Message Types
// =============================================================================

// Payload shapes for these are the session package's update types.
const (
	// MsgTypeWorkflowStatus reports progress of a long-running backend workflow.
	MsgTypeWorkflowStatus = "workflow_status_update"

	// MsgTypeAgentExecution reports which backend agent is executing and its phase.
	MsgTypeAgentExecution = "agent_execution_update"

	// MsgTypeTypingUpdate mirrors a remote typing indicator.
	MsgTypeTypingUpdate = "typing_indicator_update"

	// MsgTypeRecommendation delivers updated package recommendations.
	MsgTypeRecommendation = "recommendation_update"

	// MsgTypeError reports a server-side error for the session.
	MsgTypeError = "error"
)

// MsgTypeAny is the wildcard subscription type. Subscribers registered under
// it receive every parsed inbound envelope regardless of its type.
const MsgTypeAny = "message"
