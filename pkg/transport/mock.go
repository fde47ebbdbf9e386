package transport

import (
	"context"
	"sync/atomic"

	"github.com/achxy/serialwarp/pkg/errors"
)

// Mock is an in-memory transport connecting two endpoints via buffered
// channels, used exclusively by tests in place of real USB hardware.
type Mock struct {
	send      chan<- []byte
	recv      <-chan []byte
	connected *int32
	stats     Stats
}

// mockChannelCapacity bounds the buffering between a paired Mock's ends.
const mockChannelCapacity = 64

// NewMockPair returns two Mock transports wired so that data sent on one
// is received by the other, sharing a single connected flag.
func NewMockPair() (*Mock, *Mock) {
	ch1 := make(chan []byte, mockChannelCapacity)
	ch2 := make(chan []byte, mockChannelCapacity)
	connected := int32(1)

	t1 := &Mock{send: ch1, recv: ch2, connected: &connected}
	t2 := &Mock{send: ch2, recv: ch1, connected: &connected}
	return t1, t2
}

// Send implements Transport.
func (m *Mock) Send(ctx context.Context, data []byte) error {
	if !m.IsConnected() {
		m.stats.IncSendErrors()
		return errors.NewDisconnectedError()
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case m.send <- buf:
		m.stats.AddBytesSent(len(buf))
		return nil
	case <-ctx.Done():
		m.stats.IncSendErrors()
		return ctx.Err()
	}
}

// Recv implements Transport.
func (m *Mock) Recv(ctx context.Context) ([]byte, error) {
	if !m.IsConnected() {
		m.stats.IncRecvErrors()
		return nil, errors.NewDisconnectedError()
	}

	select {
	case data, ok := <-m.recv:
		if !ok {
			m.stats.IncRecvErrors()
			return nil, errors.NewChannelClosedError()
		}
		m.stats.AddBytesReceived(len(data))
		return data, nil
	case <-ctx.Done():
		m.stats.IncRecvErrors()
		return nil, ctx.Err()
	}
}

// IsConnected implements Transport.
func (m *Mock) IsConnected() bool {
	return atomic.LoadInt32(m.connected) != 0
}

// Close implements Transport. Both ends of a pair share the connected
// flag, so closing one closes both.
func (m *Mock) Close() error {
	atomic.StoreInt32(m.connected, 0)
	return nil
}

// Stats returns the transport's traffic counters.
func (m *Mock) Stats() *Stats {
	return &m.stats
}
