package sink

import (
	"context"
	"testing"
	"time"

	"github.com/achxy/serialwarp/pkg/frame"
	"github.com/achxy/serialwarp/pkg/logger"
	"github.com/achxy/serialwarp/pkg/protocol"
	"github.com/achxy/serialwarp/pkg/render"
	"github.com/achxy/serialwarp/pkg/transport"
)

// fakeDecoder turns every Annex-B access unit into one decoded frame
// without touching libav, so Sink's loop can be exercised without it.
type fakeDecoder struct {
	closed bool
}

func (f *fakeDecoder) DecodeAnnexB(data []byte, frameNumber, ptsUs uint64) ([]frame.Decoded, error) {
	yuv := make([]byte, 4*4+2*(4*4/4))
	return []frame.Decoded{frame.NewDecoded(frameNumber, ptsUs, 4, 4, yuv)}, nil
}

func (f *fakeDecoder) Close() error {
	f.closed = true
	return nil
}

// fakeRenderer records presented frames instead of opening a window.
type fakeRenderer struct {
	presented int
	closed    bool
}

func (r *fakeRenderer) Present(d frame.Decoded) error {
	r.presented++
	return nil
}

func (r *fakeRenderer) ProcessEvents() {}

func (r *fakeRenderer) Close() error {
	r.closed = true
	return nil
}

func testLogger() logger.Logger {
	return logger.NewDefaultLogger(logger.FatalLevel, "text")
}

// runSourceSide plays the handshake + streaming counterpart to Sink.Run
// directly against the transport.
func runSourceSide(t *testing.T, tr transport.Transport, frameCount int, done chan<- error) {
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

	hello := protocol.NewHelloPayload(1, 1920, 1080, 60, 0)
	if err := send(protocol.PacketHello, hello.MarshalBinary()); err != nil {
		done <- err
		return
	}
	helloAck, err := recv()
	if err != nil || helloAck.Type() != protocol.PacketHelloAck {
		done <- err
		return
	}

	start := protocol.NewStartPayload(4, 4, 30, 1_000_000)
	if err := send(protocol.PacketStart, start.MarshalBinary()); err != nil {
		done <- err
		return
	}
	startAck, err := recv()
	if err != nil || startAck.Type() != protocol.PacketStartAck {
		done <- err
		return
	}

	for i := 0; i < frameCount; i++ {
		enc := frame.NewEncoded(frame.NewMetadata(uint64(i), uint64(i), uint64(i), i == 0), []byte("access-unit"))
		for _, seg := range enc.Segments() {
			if err := send(protocol.PacketFrame, seg.Payload()); err != nil {
				done <- err
				return
			}
		}
		ack, err := recv()
		if err != nil || ack.Type() != protocol.PacketFrameAck {
			done <- err
			return
		}
	}

	if err := send(protocol.PacketStop, nil); err != nil {
		done <- err
		return
	}
	stopAck, err := recv()
	if err != nil || stopAck.Type() != protocol.PacketStopAck {
		done <- err
		return
	}
	done <- nil
}

func TestSinkFullSessionLifecycle(t *testing.T) {
	t1, t2 := transport.NewMockPair()

	snk := New(t1, testLogger(), Config{
		SoftwareVersion: 1,
		MaxWidth:        3840,
		MaxHeight:       2160,
		MaxFPS:          60,
		InitialCredits:  8,
		WindowTitle:     "test",
	})

	dec := &fakeDecoder{}
	rnd := &fakeRenderer{}

	sourceDone := make(chan error, 1)
	go runSourceSide(t, t2, 3, sourceDone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- snk.Run(ctx,
			func(width, height int) (Decoder, error) { return dec, nil },
			func(title string, width, height int) (render.Renderer, error) { return rnd, nil },
		)
	}()

	select {
	case err := <-sourceDone:
		if err != nil {
			t.Fatalf("source side failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for source side")
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Sink.Run returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for Sink.Run")
	}

	if got := snk.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if rnd.presented != 3 {
		t.Errorf("presented = %d, want 3", rnd.presented)
	}
	if !dec.closed {
		t.Error("expected decoder to be closed")
	}
	if !rnd.closed {
		t.Error("expected renderer to be closed")
	}
}
