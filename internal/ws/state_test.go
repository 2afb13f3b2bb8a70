package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	s := &State{}
	assert.Equal(t, StateDisconnected, s.Load())

	s.Store(StateConnecting)
	assert.Equal(t, StateConnecting, s.Load())

	assert.True(t, s.CompareAndSwap(StateConnecting, StateConnected))
	assert.False(t, s.CompareAndSwap(StateConnecting, StateClosed))
	assert.Equal(t, StateConnected, s.Load())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}
