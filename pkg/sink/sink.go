// Package sink implements the display-side (PC) half of a serialwarp
// session: the handshake, the receive/reassemble/decode/render loop with
// credit-returning FRAME_ACKs, and PING/PONG keepalive handling.
package sink

import (
	"context"
	"time"

	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/frame"
	"github.com/achxy/serialwarp/pkg/logger"
	"github.com/achxy/serialwarp/pkg/protocol"
	"github.com/achxy/serialwarp/pkg/render"
	"github.com/achxy/serialwarp/pkg/transport"
)

// recvPollInterval bounds how long each receive attempt blocks before the
// loop goes back to pumping UI events, matching the sink's need to stay
// responsive to window events even with no traffic arriving.
const recvPollInterval = 10 * time.Millisecond

// Decoder is the decode-session contract the receive loop drives;
// *codec.Decoder satisfies it. Defined here, at the point of use, so
// tests can drive Sink with a fake decoder instead of a real libav
// session.
type Decoder interface {
	DecodeAnnexB(data []byte, frameNumber, ptsUs uint64) ([]frame.Decoded, error)
	Close() error
}

// Config is what the sink advertises in HELLO_ACK and the credit grant it
// hands the source in START_ACK.
type Config struct {
	SoftwareVersion uint16
	MaxWidth        uint32
	MaxHeight       uint32
	MaxFPS          uint32
	HiDPI           bool
	Audio           bool
	InitialCredits  uint16
	WindowTitle     string
}

// Sink drives one serialwarp session from the display side.
type Sink struct {
	transport transport.Transport
	log       logger.Logger
	cfg       Config

	state        stateHolder
	sequence     uint32
	reassembler  *frame.Reassembler
	frameCounter uint64
}

// New builds a Sink ready to Run.
func New(t transport.Transport, log logger.Logger, cfg Config) *Sink {
	return &Sink{transport: t, log: log, cfg: cfg, reassembler: frame.NewReassembler()}
}

// State reports the session's current lifecycle stage.
func (s *Sink) State() State {
	return s.state.get()
}

func (s *Sink) nextSequence() uint32 {
	s.sequence++
	return s.sequence - 1
}

// Run executes the full session: HELLO/START handshake, then the
// receive/decode/render loop until STOP arrives, ctx is canceled, or the
// transport disconnects. On cancellation it sends STOP to the source
// before closing the transport. dec and rnd are created after START is known,
// since both depend on the negotiated resolution.
func (s *Sink) Run(ctx context.Context, openDecoder func(width, height int) (Decoder, error), openRenderer func(title string, width, height int) (render.Renderer, error)) error {
	startPayload, err := s.handshake(ctx)
	if err != nil {
		return err
	}

	dec, err := openDecoder(int(startPayload.Width), int(startPayload.Height))
	if err != nil {
		return errors.Wrap(errors.ErrCodeDecoderSessionFailed, "failed to create decoder", err)
	}
	defer dec.Close()

	rnd, err := openRenderer(s.cfg.WindowTitle, int(startPayload.Width), int(startPayload.Height))
	if err != nil {
		return errors.Wrap(errors.ErrCodeDisplayCreationFailed, "failed to create renderer", err)
	}
	defer rnd.Close()

	s.state.set(StateStreaming)
	s.streamLoop(ctx, dec, rnd)

	if s.state.get() != StateStopping && ctx.Err() != nil && s.transport.IsConnected() {
		s.state.set(StateStopping)
		_ = s.send(context.WithoutCancel(ctx), protocol.PacketStop, nil)
	}

	s.state.set(StateClosed)
	_ = s.transport.Close()
	return nil
}

// handshake waits for HELLO, replies with HELLO_ACK, waits for START, and
// replies with START_ACK granting the configured initial credits.
func (s *Sink) handshake(ctx context.Context) (protocol.StartPayload, error) {
	s.state.set(StateWaiting)

	hello, err := s.recvExpecting(ctx, protocol.PacketHello)
	if err != nil {
		return protocol.StartPayload{}, err
	}
	helloPayload, err := protocol.ParseHelloPayload(hello.Payload)
	if err != nil {
		return protocol.StartPayload{}, err
	}
	s.log.Info("received HELLO",
		logger.Int("max_width", int(helloPayload.MaxWidth)),
		logger.Int("max_height", int(helloPayload.MaxHeight)),
	)

	caps := uint32(0)
	if s.cfg.HiDPI {
		caps |= protocol.CapabilityHiDPI
	}
	if s.cfg.Audio {
		caps |= protocol.CapabilityAudio
	}
	ack := protocol.NewHelloPayload(s.cfg.SoftwareVersion, s.cfg.MaxWidth, s.cfg.MaxHeight, s.cfg.MaxFPS, caps)
	if err := s.send(ctx, protocol.PacketHelloAck, ack.MarshalBinary()); err != nil {
		return protocol.StartPayload{}, err
	}
	s.state.set(StateConnected)

	start, err := s.recvExpecting(ctx, protocol.PacketStart)
	if err != nil {
		return protocol.StartPayload{}, err
	}
	startPayload, err := protocol.ParseStartPayload(start.Payload)
	if err != nil {
		return protocol.StartPayload{}, err
	}
	s.log.Info("received START",
		logger.Int("width", int(startPayload.Width)),
		logger.Int("height", int(startPayload.Height)),
		logger.Int("fps", int(startPayload.FPS())),
	)

	startAck := protocol.OkStartAck(s.cfg.InitialCredits)
	if err := s.send(ctx, protocol.PacketStartAck, startAck.MarshalBinary()); err != nil {
		return protocol.StartPayload{}, err
	}

	return startPayload, nil
}

// streamLoop races transport.Recv against the renderer's event pump: a
// short timeout on each receive attempt keeps the UI responsive even
// while no FRAME traffic is arriving.
func (s *Sink) streamLoop(ctx context.Context, dec Decoder, rnd render.Renderer) {
	for {
		rnd.ProcessEvents()

		if ctx.Err() != nil || !s.transport.IsConnected() {
			return
		}

		recvCtx, cancel := context.WithTimeout(ctx, recvPollInterval)
		data, err := s.transport.Recv(recvCtx)
		cancel()
		if err != nil {
			if recvCtx.Err() == context.DeadlineExceeded {
				continue
			}
			if !s.transport.IsConnected() {
				return
			}
			continue
		}

		pkt, _, err := protocol.ParsePacket(data)
		if err != nil {
			s.log.Warn("dropped unparseable packet", logger.Err(err))
			continue
		}

		switch pkt.Type() {
		case protocol.PacketFrame:
			s.handleFrame(ctx, pkt, dec, rnd)
		case protocol.PacketStop:
			s.log.Info("received STOP")
			s.state.set(StateStopping)
			_ = s.send(ctx, protocol.PacketStopAck, nil)
			return
		case protocol.PacketPing:
			s.handlePing(ctx, pkt)
		default:
			s.log.Warn("unexpected packet type", logger.String("type", pkt.Type().String()))
		}
	}
}

func (s *Sink) handleFrame(ctx context.Context, pkt protocol.Packet, dec Decoder, rnd render.Renderer) {
	if len(pkt.Payload) < protocol.FrameHeaderSize {
		s.log.Warn("frame payload too small")
		return
	}

	header, err := protocol.ParseFrameHeader(pkt.Payload)
	if err != nil {
		s.log.Warn("invalid frame header", logger.Err(err))
		return
	}
	segmentData := pkt.Payload[protocol.FrameHeaderSize:]

	complete := s.reassembler.AddSegment(header, segmentData)
	if complete == nil {
		return
	}

	start := time.Now()
	decoded, err := dec.DecodeAnnexB(complete.Data, s.frameCounter, complete.Metadata.PTSUs)
	if err != nil {
		s.log.Warn("decode error", logger.Err(err))
		return
	}
	decodeTime := time.Since(start)

	for _, d := range decoded {
		d.FrameNumber = s.frameCounter
		s.frameCounter++
		if err := rnd.Present(d); err != nil {
			s.log.Warn("render error", logger.Err(err))
		}
	}

	ack := protocol.NewFrameAckPayload(header.FrameNumber, uint32(decodeTime.Microseconds()), 1)
	if err := s.send(ctx, protocol.PacketFrameAck, ack.MarshalBinary()); err != nil {
		s.log.Warn("failed to send FRAME_ACK", logger.Err(err))
	}
}

func (s *Sink) handlePing(ctx context.Context, pkt protocol.Packet) {
	ping, err := protocol.ParsePingPayload(pkt.Payload)
	if err != nil {
		return
	}
	pong := protocol.NewPongPayload(ping.TimestampUs, uint64(time.Now().UnixMicro()))
	if err := s.send(ctx, protocol.PacketPong, pong.MarshalBinary()); err != nil {
		s.log.Warn("failed to send PONG", logger.Err(err))
	}
}

func (s *Sink) send(ctx context.Context, t protocol.PacketType, payload []byte) error {
	pkt := protocol.NewPacket(t, 0, s.nextSequence(), payload)
	return s.transport.Send(ctx, pkt.MarshalBinary())
}

func (s *Sink) recvExpecting(ctx context.Context, want protocol.PacketType) (protocol.Packet, error) {
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
