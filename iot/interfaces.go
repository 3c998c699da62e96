package iot

import "context"

// Publisher is an interface to send one telemetry message to the IoT hub
type Publisher interface {
	Send(ctx context.Context, payload []byte, contentType, contentEncoding string) error
}

// ConnectionState is the state of a device's transport session
type ConnectionState int

// all connection states a hub session goes through
const (
	StateDisconnected ConnectionState = iota
	StateConnected
	// StateDisabled is irrecoverable, the session was lost and will not come back
	StateDisabled
	// StateClosed means the session was closed by the device itself
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateDisabled:
		return "disabled"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// StateObserver is notified about connection state transitions. reason is nil unless the
// transition was caused by a failure.
type StateObserver func(state ConnectionState, reason error)
