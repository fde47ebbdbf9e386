// Package transport provides the framed, connection-oriented byte conduit
// that serialwarp's source and sink speak over: a symmetric, reliable,
// ordered send/recv pair backed either by a real USB bulk-endpoint link
// cable or, for tests, an in-memory paired channel.
package transport

import (
	"context"
	"sync/atomic"
)

// Transport is a symmetric, reliable, ordered byte conduit. One call to
// Send carries exactly one serialized packet; one call to Recv returns
// exactly one. Implementations must fail fast with a Disconnected error
// once the underlying medium is gone.
type Transport interface {
	// Send transmits one whole packet.
	Send(ctx context.Context, data []byte) error

	// Recv blocks for one whole packet, honoring ctx cancellation and any
	// implementation-specific timeout.
	Recv(ctx context.Context) ([]byte, error)

	// IsConnected reports whether the transport still believes itself
	// connected. It does not probe the medium.
	IsConnected() bool

	// Close releases the transport's resources. Safe to call more than
	// once.
	Close() error
}

// Stats holds atomic counters tracking a transport's traffic, using
// plain load/add operations rather than a mutex.
type Stats struct {
	bytesSent     uint64
	bytesReceived uint64
	sendErrors    uint64
	recvErrors    uint64
}

// AddBytesSent records n bytes written successfully.
func (s *Stats) AddBytesSent(n int) {
	atomic.AddUint64(&s.bytesSent, uint64(n))
}

// AddBytesReceived records n bytes read successfully.
func (s *Stats) AddBytesReceived(n int) {
	atomic.AddUint64(&s.bytesReceived, uint64(n))
}

// IncSendErrors records a failed Send call.
func (s *Stats) IncSendErrors() {
	atomic.AddUint64(&s.sendErrors, 1)
}

// IncRecvErrors records a failed Recv call.
func (s *Stats) IncRecvErrors() {
	atomic.AddUint64(&s.recvErrors, 1)
}

// BytesSent returns the running total of bytes successfully sent.
func (s *Stats) BytesSent() uint64 {
	return atomic.LoadUint64(&s.bytesSent)
}

// BytesReceived returns the running total of bytes successfully received.
func (s *Stats) BytesReceived() uint64 {
	return atomic.LoadUint64(&s.bytesReceived)
}

// SendErrors returns the running total of failed Send calls.
func (s *Stats) SendErrors() uint64 {
	return atomic.LoadUint64(&s.sendErrors)
}

// RecvErrors returns the running total of failed Recv calls.
func (s *Stats) RecvErrors() uint64 {
	return atomic.LoadUint64(&s.recvErrors)
}
