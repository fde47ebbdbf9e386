package sink

import "sync/atomic"

// State is one stage of the sink-side session lifecycle.
type State int32

const (
	// StateIdle is before the handshake begins.
	StateIdle State = iota

	// StateWaiting is waiting for HELLO.
	StateWaiting

	// StateConnected is after HELLO_ACK is sent: waiting for START,
	// replying START_ACK, and opening the decoder and renderer.
	StateConnected

	// StateStreaming is the receive/decode/render/ack loop.
	StateStreaming

	// StateStopping is entered when the loop ends on STOP from the source
	// (answered with STOP_ACK) or on local cancellation (answered by
	// sending STOP).
	StateStopping

	// StateClosed is the terminal state; the transport is released.
	StateClosed
)

// String names the state for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateConnected:
		return "connected"
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

type stateHolder struct {
	v int32
}

func (h *stateHolder) set(s State) {
	atomic.StoreInt32(&h.v, int32(s))
}

func (h *stateHolder) get() State {
	return State(atomic.LoadInt32(&h.v))
}
