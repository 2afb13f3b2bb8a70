package ws

import "sync/atomic"

// ConnState tracks where a websocket connection is in its lifecycle.
type ConnState int32

const (
	// StateDisconnected means no connection is established.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateConnected means the connection is live.
	StateConnected
	// StateReconnecting means the connection dropped and a retry is underway.
	StateReconnecting
	// StateClosed means the client was shut down and will not reconnect.
	StateClosed
)

// String returns a lowercase name for the state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is an atomic holder for a ConnState. The zero value is
// StateDisconnected.
type State struct {
	v atomic.Int32
}

// Load returns the current state.
func (s *State) Load() ConnState {
	return ConnState(s.v.Load())
}

// Store unconditionally replaces the current state.
func (s *State) Store(state ConnState) {
	s.v.Store(int32(state))
}

// CompareAndSwap transitions from old to new atomically, reporting whether
// the transition happened.
func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}
