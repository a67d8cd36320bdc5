package realtime

import "time"

// Status is the connection lifecycle state.
type Status string

const (
	// StatusDisconnected means no transport exists and no reconnect is pending.
	StatusDisconnected Status = "disconnected"
	// StatusConnecting means a dial is in flight.
	StatusConnecting Status = "connecting"
	// StatusConnected means the transport is open and the heartbeat is running.
	StatusConnected Status = "connected"
	// StatusError means the transport failed; a reconnect may be scheduled.
	StatusError Status = "error"
)

// State is a snapshot of the connection state. It is owned exclusively by the
// Manager and handed to status subscribers by value; subscribers must treat
// it as read-only.
type State struct {
	Status            Status     `json:"status"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	LastConnected     *time.Time `json:"last_connected,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}
