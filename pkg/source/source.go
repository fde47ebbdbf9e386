// Package source implements the capture-side (Mac) half of a serialwarp
// session: the handshake, the credit-gated capture/encode/send loop, and
// the cooperative shutdown sequence.
package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/achxy/serialwarp/pkg/capture"
	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/frame"
	"github.com/achxy/serialwarp/pkg/logger"
	"github.com/achxy/serialwarp/pkg/protocol"
	"github.com/achxy/serialwarp/pkg/transport"
)

// Encoder is the encode-session contract the streaming loop drives;
// *codec.Encoder satisfies it. Defined here, at the point of use, so
// tests can drive Source with a fake encoder instead of a real libav
// session.
type Encoder interface {
	Output() <-chan frame.Encoded
	EncodeRaw(bgra []byte, width, height int, ptsUs, captureTSUs uint64, forceKeyframe bool) error
}

// creditWaitInterval is how long the send loop sleeps between polls while
// the credit balance is zero.
const creditWaitInterval = 100 * time.Microsecond

// stopAckTimeout bounds how long Run waits for STOP_ACK before closing
// the transport anyway.
const stopAckTimeout = time.Second

// Config is the session the source negotiates and then streams.
type Config struct {
	SoftwareVersion uint16
	Width           uint32
	Height          uint32
	FPS             uint32
	BitrateBPS      uint32
	HiDPI           bool
}

// Source drives one serialwarp session from the capture side.
type Source struct {
	transport transport.Transport
	encoder   Encoder
	capture   capture.Source
	log       logger.Logger
	cfg       Config

	state    stateHolder
	sequence uint32
	credits  uint32 // uint16 range, saturating; stored wider for atomic ops

	stopRequested int32
}

// New builds a Source ready to Run. Run takes the encoder and capture
// stream as arguments and creates neither; the caller opens both before
// the handshake, at the resolution cfg advertises.
func New(t transport.Transport, log logger.Logger, cfg Config) *Source {
	return &Source{transport: t, log: log, cfg: cfg}
}

// State reports the session's current lifecycle stage.
func (s *Source) State() State {
	return s.state.get()
}

func (s *Source) nextSequence() uint32 {
	return atomic.AddUint32(&s.sequence, 1) - 1
}

// Run executes the full session: HELLO/START handshake, streaming loop,
// and STOP handshake. It returns once the session has fully wound down,
// whether because ctx was canceled, the sink requested STOP, or the
// transport disconnected.
func (s *Source) Run(ctx context.Context, enc Encoder, cap capture.Source) error {
	s.encoder = enc
	s.capture = cap

	negotiated, err := s.handshake(ctx)
	if err != nil {
		return err
	}

	atomic.StoreUint32(&s.credits, uint32(negotiated))
	s.state.set(StateStreaming)

	// The ack receiver owns Recv exclusively while streaming; canceling
	// ackCtx once streaming ends hands that ownership to shutdown so the
	// two never race for the same STOP_ACK.
	ackCtx, ackCancel := context.WithCancel(ctx)
	ackDone := make(chan struct{})
	go s.runAckReceiver(ackCtx, ackDone)

	s.streamLoop(ctx)

	ackCancel()
	<-ackDone

	s.state.set(StateStopping)
	// ctx may already be canceled (local stop request); the STOP exchange
	// still runs, bounded by stopAckTimeout.
	s.shutdown(context.WithoutCancel(ctx))

	s.state.set(StateClosed)
	return nil
}

// handshake sends HELLO and START, negotiating resolution/fps down to
// whatever the sink advertises it can handle, and returns the initial
// credit grant from START_ACK.
func (s *Source) handshake(ctx context.Context) (uint16, error) {
	s.state.set(StateHelloSent)

	caps := uint32(0)
	if s.cfg.HiDPI {
		caps |= protocol.CapabilityHiDPI
	}
	hello := protocol.NewHelloPayload(s.cfg.SoftwareVersion, s.cfg.Width, s.cfg.Height, s.cfg.FPS, caps)
	if err := s.send(ctx, protocol.PacketHello, hello.MarshalBinary()); err != nil {
		return 0, err
	}

	helloAck, err := s.recvExpecting(ctx, protocol.PacketHelloAck)
	if err != nil {
		return 0, err
	}
	ackPayload, err := protocol.ParseHelloPayload(helloAck.Payload)
	if err != nil {
		return 0, err
	}
	s.log.Info("received HELLO_ACK",
		logger.Int("max_width", int(ackPayload.MaxWidth)),
		logger.Int("max_height", int(ackPayload.MaxHeight)),
		logger.Int("max_fps", int(ackPayload.MaxFPS())),
	)

	width := minUint32(s.cfg.Width, ackPayload.MaxWidth)
	height := minUint32(s.cfg.Height, ackPayload.MaxHeight)
	fps := minUint32(s.cfg.FPS, ackPayload.MaxFPS())

	s.state.set(StateStartSent)
	start := protocol.NewStartPayload(width, height, fps, s.cfg.BitrateBPS)
	if err := s.send(ctx, protocol.PacketStart, start.MarshalBinary()); err != nil {
		return 0, err
	}

	startAck, err := s.recvExpecting(ctx, protocol.PacketStartAck)
	if err != nil {
		return 0, err
	}
	startAckPayload, err := protocol.ParseStartAckPayload(startAck.Payload)
	if err != nil {
		return 0, err
	}
	if !startAckPayload.IsOk() {
		return 0, errors.NewHandshakeFailedError("sink rejected START")
	}

	s.log.Info("received START_ACK", logger.Int("initial_credits", int(startAckPayload.InitialCredits)))
	return startAckPayload.InitialCredits, nil
}

// runAckReceiver consumes FRAME_ACK/STOP/PING while the session streams,
// returning credits and tripping stopRequested on STOP.
func (s *Source) runAckReceiver(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		if atomic.LoadInt32(&s.stopRequested) != 0 {
			return
		}

		data, err := s.transport.Recv(ctx)
		if err != nil {
			if !s.transport.IsConnected() || ctx.Err() != nil {
				return
			}
			s.log.Warn("ack receive error", logger.Err(err))
			continue
		}

		pkt, _, err := protocol.ParsePacket(data)
		if err != nil {
			s.log.Warn("ack receiver dropped unparseable packet", logger.Err(err))
			continue
		}

		switch pkt.Type() {
		case protocol.PacketFrameAck:
			ack, err := protocol.ParseFrameAckPayload(pkt.Payload)
			if err != nil {
				continue
			}
			addCreditsSaturating(&s.credits, ack.CreditsReturned)
		case protocol.PacketStop:
			s.log.Info("received STOP from sink")
			atomic.StoreInt32(&s.stopRequested, 1)
			return
		case protocol.PacketPing:
			ping, err := protocol.ParsePingPayload(pkt.Payload)
			if err != nil {
				continue
			}
			pong := protocol.NewPongPayload(ping.TimestampUs, uint64(time.Now().UnixMicro()))
			if err := s.send(ctx, protocol.PacketPong, pong.MarshalBinary()); err != nil {
				s.log.Warn("failed to send PONG", logger.Err(err))
			}
		default:
			s.log.Warn("unexpected packet type on ack receiver", logger.String("type", pkt.Type().String()))
		}
	}
}

// streamLoop captures, encodes, and sends frames while credits remain and
// the transport stays connected.
func (s *Source) streamLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || !s.transport.IsConnected() || atomic.LoadInt32(&s.stopRequested) != 0 {
			return
		}

		for atomic.LoadUint32(&s.credits) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(creditWaitInterval):
			}
			if !s.transport.IsConnected() || atomic.LoadInt32(&s.stopRequested) != 0 {
				return
			}
		}

		captured, err := s.capture.Next(ctx)
		if err != nil {
			s.log.Warn("capture stream ended", logger.Err(err))
			return
		}

		if err := s.encoder.EncodeRaw(captured.PixelData, captured.Width, captured.Height, captured.PTSUs, captured.CaptureTSUs, false); err != nil {
			s.log.Warn("encode error", logger.Err(err))
			continue
		}

		s.drainEncoded(ctx)

		subCreditsSaturating(&s.credits, 1)
	}
}

// drainEncoded flushes every frame the encoder has produced so far into
// segmented FRAME packets. EncodeRaw is synchronous, so after it returns
// the encoder's output channel holds zero or more ready frames.
func (s *Source) drainEncoded(ctx context.Context) {
	for {
		select {
		case enc, ok := <-s.encoder.Output():
			if !ok {
				return
			}
			s.sendFrame(ctx, enc)
		default:
			return
		}
	}
}

func (s *Source) sendFrame(ctx context.Context, enc frame.Encoded) {
	for _, seg := range enc.Segments() {
		if err := s.send(ctx, protocol.PacketFrame, seg.Payload()); err != nil {
			s.log.Warn("send error", logger.Err(err))
			return
		}
	}
}

// shutdown sends STOP and waits up to stopAckTimeout for the next packet,
// logging it if it is STOP_ACK. The ack receiver has already exited, so
// shutdown is the only reader; a missing STOP_ACK never blocks the session
// closing.
func (s *Source) shutdown(ctx context.Context) {
	s.log.Info("sending STOP")
	_ = s.send(ctx, protocol.PacketStop, nil)

	waitCtx, cancel := context.WithTimeout(ctx, stopAckTimeout)
	defer cancel()

	data, err := s.transport.Recv(waitCtx)
	if err == nil {
		if pkt, _, perr := protocol.ParsePacket(data); perr == nil && pkt.Type() == protocol.PacketStopAck {
			s.log.Info("received STOP_ACK")
		}
	} else {
		s.log.Warn("did not receive STOP_ACK", logger.Err(err))
	}

	_ = s.transport.Close()
}

func (s *Source) send(ctx context.Context, t protocol.PacketType, payload []byte) error {
	pkt := protocol.NewPacket(t, 0, s.nextSequence(), payload)
	return s.transport.Send(ctx, pkt.MarshalBinary())
}

func (s *Source) recvExpecting(ctx context.Context, want protocol.PacketType) (protocol.Packet, error) {
	data, err := s.transport.Recv(ctx)
	if err != nil {
		return protocol.Packet{}, err
	}
	pkt, _, err := protocol.ParsePacket(data)
	if err != nil {
		return protocol.Packet{}, err
	}
	if pkt.Type() != want {
		return protocol.Packet{}, errors.NewHandshakeFailedError("expected " + want.String() + ", got " + pkt.Type().String())
	}
	return pkt, nil
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// addCreditsSaturating adds n to *credits without overflowing uint16 range.
func addCreditsSaturating(credits *uint32, n uint16) {
	for {
		old := atomic.LoadUint32(credits)
		next := old + uint32(n)
		if next > 0xFFFF {
			next = 0xFFFF
		}
		if atomic.CompareAndSwapUint32(credits, old, next) {
			return
		}
	}
}

// subCreditsSaturating subtracts n from *credits, floored at zero.
func subCreditsSaturating(credits *uint32, n uint32) {
	for {
		old := atomic.LoadUint32(credits)
		var next uint32
		if old > n {
			next = old - n
		}
		if atomic.CompareAndSwapUint32(credits, old, next) {
			return
		}
	}
}
