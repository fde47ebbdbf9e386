package source

import "sync/atomic"

// State is one stage of the source-side session lifecycle.
type State int32

const (
	// StateIdle is before HELLO has been sent.
	StateIdle State = iota

	// StateHelloSent is after HELLO is sent, waiting for HELLO_ACK.
	StateHelloSent

	// StateStartSent is after START is sent, waiting for START_ACK.
	StateStartSent

	// StateStreaming is the credit-gated capture/encode/send loop.
	StateStreaming

	// StateStopping is after STOP has been sent, waiting for STOP_ACK.
	StateStopping

	// StateClosed is the terminal state; the transport is released.
	StateClosed
)

// String names the state for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHelloSent:
		return "hello_sent"
	case StateStartSent:
		return "start_sent"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateHolder is an atomically-updated State, embedded in Source.
type stateHolder struct {
	v int32
}

func (h *stateHolder) set(s State) {
	atomic.StoreInt32(&h.v, int32(s))
}

func (h *stateHolder) get() State {
	return State(atomic.LoadInt32(&h.v))
}
