package source

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/achxy/serialwarp/pkg/capture"
	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/frame"
	"github.com/achxy/serialwarp/pkg/logger"
	"github.com/achxy/serialwarp/pkg/protocol"
	"github.com/achxy/serialwarp/pkg/transport"
)

// fakeEncoder hands EncodeRaw calls straight to the output channel,
// skipping libav entirely so Source's loop can be exercised without it.
type fakeEncoder struct {
	out         chan frame.Encoded
	frameNumber uint64
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{out: make(chan frame.Encoded, 16)}
}

func (f *fakeEncoder) Output() <-chan frame.Encoded { return f.out }

func (f *fakeEncoder) EncodeRaw(bgra []byte, width, height int, ptsUs, captureTSUs uint64, forceKeyframe bool) error {
	n := atomic.AddUint64(&f.frameNumber, 1) - 1
	meta := frame.NewMetadata(n, ptsUs, captureTSUs, n == 0)
	f.out <- frame.NewEncoded(meta, []byte("fake-access-unit"))
	return nil
}

// fakeCapture yields exactly max frames and then reports the stream ended.
type fakeCapture struct {
	n   int32
	max int32
}

func (f *fakeCapture) Next(ctx context.Context) (capture.Frame, error) {
	i := atomic.AddInt32(&f.n, 1) - 1
	if i >= f.max {
		return capture.Frame{}, errors.NewChannelClosedError()
	}
	return capture.Frame{
		PixelData:   make([]byte, 16),
		Width:       4,
		Height:      4,
		PTSUs:       uint64(i),
		CaptureTSUs: uint64(i),
		FrameNumber: uint64(i),
	}, nil
}

func (f *fakeCapture) Stop() {}

func (f *fakeCapture) FrameCount() uint64 { return uint64(atomic.LoadInt32(&f.n)) }

func testLogger() logger.Logger {
	l := logger.NewDefaultLogger(logger.FatalLevel, "text")
	return l
}

// runSinkSide plays the handshake + streaming counterpart to Source.Run
// directly against the transport, without going through pkg/sink, so the
// test only depends on pkg/protocol and pkg/transport.
func runSinkSide(t *testing.T, tr transport.Transport, framesExpected int, done chan<- error) {
	ctx := context.Background()
	seq := uint32(0)
	send := func(pt protocol.PacketType, payload []byte) error {
		pkt := protocol.NewPacket(pt, 0, seq, payload)
		seq++
		return tr.Send(ctx, pkt.MarshalBinary())
	}
	recv := func() (protocol.Packet, error) {
		data, err := tr.Recv(ctx)
		if err != nil {
			return protocol.Packet{}, err
		}
		pkt, _, err := protocol.ParsePacket(data)
		return pkt, err
	}

	hello, err := recv()
	if err != nil || hello.Type() != protocol.PacketHello {
		done <- errAs(t, "expected HELLO", err)
		return
	}
	ackPayload := protocol.NewHelloPayload(1, 1920, 1080, 60, 0)
	if err := send(protocol.PacketHelloAck, ackPayload.MarshalBinary()); err != nil {
		done <- err
		return
	}

	start, err := recv()
	if err != nil || start.Type() != protocol.PacketStart {
		done <- errAs(t, "expected START", err)
		return
	}
	startAck := protocol.OkStartAck(4)
	if err := send(protocol.PacketStartAck, startAck.MarshalBinary()); err != nil {
		done <- err
		return
	}

	reassembler := frame.NewReassembler()
	received := 0
	for received < framesExpected {
		pkt, err := recv()
		if err != nil {
			done <- err
			return
		}
		if pkt.Type() != protocol.PacketFrame {
			continue
		}
		header, err := protocol.ParseFrameHeader(pkt.Payload)
		if err != nil {
			done <- err
			return
		}
		if complete := reassembler.AddSegment(header, pkt.Payload[protocol.FrameHeaderSize:]); complete != nil {
			received++
			ack := protocol.NewFrameAckPayload(header.FrameNumber, 100, 1)
			if err := send(protocol.PacketFrameAck, ack.MarshalBinary()); err != nil {
				done <- err
				return
			}
		}
	}

	stop, err := recv()
	if err != nil || stop.Type() != protocol.PacketStop {
		done <- errAs(t, "expected STOP", err)
		return
	}
	if err := send(protocol.PacketStopAck, nil); err != nil {
		done <- err
		return
	}
	done <- nil
}

func errAs(t *testing.T, msg string, err error) error {
	t.Helper()
	if err != nil {
		return err
	}
	return errors.New(errors.ErrCodeHandshakeFailed, msg)
}

func TestSourceFullSessionLifecycle(t *testing.T) {
	t1, t2 := transport.NewMockPair()

	src := New(t1, testLogger(), Config{
		SoftwareVersion: 1,
		Width:           1920,
		Height:          1080,
		FPS:             60,
		BitrateBPS:      8_000_000,
	})

	enc := newFakeEncoder()
	cap := &fakeCapture{max: 3}

	sinkDone := make(chan error, 1)
	go runSinkSide(t, t2, 3, sinkDone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- src.Run(ctx, enc, cap)
	}()

	select {
	case err := <-sinkDone:
		if err != nil {
			t.Fatalf("sink side failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for sink side")
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Source.Run returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for Source.Run")
	}

	if got := src.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestAddCreditsSaturating(t *testing.T) {
	var credits uint32 = 0xFFFE
	addCreditsSaturating(&credits, 10)
	if credits != 0xFFFF {
		t.Errorf("credits = %d, want saturated at 0xFFFF", credits)
	}
}

func TestSubCreditsSaturatingFloorsAtZero(t *testing.T) {
	var credits uint32 = 0
	subCreditsSaturating(&credits, 1)
	if credits != 0 {
		t.Errorf("credits = %d, want floored at 0", credits)
	}
}
