package protocol

import (
	"testing"

	"github.com/achxy/serialwarp/pkg/errors"
)

func TestPacketRoundtrip(t *testing.T) {
	payload := NewHelloPayload(1, 3840, 2160, 60, CapabilityHiDPI|CapabilityAudio)
	packet := NewPacket(PacketHello, 0, 1, payload.MarshalBinary())
	wire := packet.MarshalBinary()

	parsed, consumed, err := ParsePacket(wire)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if consumed != len(wire) {
		t.Errorf("consumed = %d, want %d", consumed, len(wire))
	}
	if parsed.Type() != PacketHello {
		t.Errorf("type = %v, want HELLO", parsed.Type())
	}
	if parsed.Sequence() != 1 {
		t.Errorf("sequence = %d, want 1", parsed.Sequence())
	}
	if string(parsed.Payload) != string(payload.MarshalBinary()) {
		t.Errorf("payload mismatch")
	}
}

func TestParseHeaderInvalidMagic(t *testing.T) {
	bad := make([]byte, HeaderSize+CRCSize)
	bad[0], bad[1], bad[2], bad[3] = 0x78, 0x56, 0x34, 0x12 // wrong magic, LE

	_, _, err := ParsePacket(bad)
	if !errors.IsErrorCode(err, errors.ErrCodeInvalidMagic) {
		t.Fatalf("expected InvalidMagic, got %v", err)
	}
}

func TestParsePacketChecksumMismatch(t *testing.T) {
	packet := NewPacket(PacketPing, 0, 1, []byte("test"))
	wire := packet.MarshalBinary()

	wire[HeaderSize] ^= 0xFF // corrupt a payload byte

	_, _, err := ParsePacket(wire)
	if !errors.IsErrorCode(err, errors.ErrCodeChecksumMismatch) {
		t.Fatalf("expected ChecksumMismatch, got %v", err)
	}
}

func TestParsePacketBufferTooShort(t *testing.T) {
	packet := NewPacket(PacketPing, 0, 1, []byte("test"))
	wire := packet.MarshalBinary()

	_, _, err := ParsePacket(wire[:len(wire)-1])
	if !errors.IsErrorCode(err, errors.ErrCodeBufferTooShort) {
		t.Fatalf("expected BufferTooShort, got %v", err)
	}
}

func TestUnknownPacketType(t *testing.T) {
	_, err := ParsePacketType(0xFF)
	if !errors.IsErrorCode(err, errors.ErrCodeUnknownPacketType) {
		t.Fatalf("expected UnknownPacketType, got %v", err)
	}
}

func TestHelloPayload(t *testing.T) {
	payload := NewHelloPayload(1, 3840, 2160, 60, CapabilityHiDPI|CapabilityAudio)
	if payload.MaxFPS() != 60 {
		t.Errorf("MaxFPS() = %d, want 60", payload.MaxFPS())
	}
	if !payload.SupportsHiDPI() {
		t.Error("expected SupportsHiDPI")
	}
	if !payload.SupportsAudio() {
		t.Error("expected SupportsAudio")
	}

	parsed, err := ParseHelloPayload(payload.MarshalBinary())
	if err != nil {
		t.Fatalf("ParseHelloPayload failed: %v", err)
	}
	if parsed.SoftwareVersion != 1 || parsed.MaxWidth != 3840 || parsed.MaxHeight != 2160 {
		t.Errorf("unexpected parsed payload: %+v", parsed)
	}
}

func TestStartPayload(t *testing.T) {
	payload := NewStartPayload(1920, 1080, 60, 20_000_000)
	if payload.FPS() != 60 {
		t.Errorf("FPS() = %d, want 60", payload.FPS())
	}

	parsed, err := ParseStartPayload(payload.MarshalBinary())
	if err != nil {
		t.Fatalf("ParseStartPayload failed: %v", err)
	}
	if parsed.Width != 1920 || parsed.Height != 1080 || parsed.BitrateBPS != 20_000_000 {
		t.Errorf("unexpected parsed payload: %+v", parsed)
	}
}

func TestStartPayloadRejectsZeroDimensions(t *testing.T) {
	payload := NewStartPayload(0, 1080, 60, 20_000_000)
	_, err := ParseStartPayload(payload.MarshalBinary())
	if err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestFrameHeader(t *testing.T) {
	header := NewFrameHeader(42, 1_000_000, 1_000_100, 65536, 0, 2)
	parsed, err := ParseFrameHeader(header.MarshalBinary())
	if err != nil {
		t.Fatalf("ParseFrameHeader failed: %v", err)
	}
	if parsed.FrameNumber != 42 || parsed.PTSUs != 1_000_000 || parsed.SegmentCount != 2 {
		t.Errorf("unexpected parsed header: %+v", parsed)
	}
}

func TestFrameHeaderRejectsZeroSegmentCount(t *testing.T) {
	header := NewFrameHeader(1, 0, 0, 0, 0, 0)
	_, err := ParseFrameHeader(header.MarshalBinary())
	if !errors.IsErrorCode(err, errors.ErrCodeFrameReassembly) {
		t.Fatalf("expected FrameReassembly error, got %v", err)
	}
}

func TestFrameHeaderRejectsOutOfRangeIndex(t *testing.T) {
	header := NewFrameHeader(1, 0, 0, 0, 2, 2)
	_, err := ParseFrameHeader(header.MarshalBinary())
	if !errors.IsErrorCode(err, errors.ErrCodeFrameReassembly) {
		t.Fatalf("expected FrameReassembly error, got %v", err)
	}
}

func TestFrameAckPayload(t *testing.T) {
	payload := NewFrameAckPayload(42, 500, 2)
	parsed, err := ParseFrameAckPayload(payload.MarshalBinary())
	if err != nil {
		t.Fatalf("ParseFrameAckPayload failed: %v", err)
	}
	if parsed.FrameNumber != 42 || parsed.DecodeTimeUs != 500 || parsed.CreditsReturned != 2 {
		t.Errorf("unexpected parsed payload: %+v", parsed)
	}
}

func TestPingPongPayloads(t *testing.T) {
	ping := NewPingPayload(1000)
	parsedPing, err := ParsePingPayload(ping.MarshalBinary())
	if err != nil {
		t.Fatalf("ParsePingPayload failed: %v", err)
	}
	if parsedPing.TimestampUs != 1000 {
		t.Errorf("TimestampUs = %d, want 1000", parsedPing.TimestampUs)
	}

	pong := NewPongPayload(1000, 1050)
	parsedPong, err := ParsePongPayload(pong.MarshalBinary())
	if err != nil {
		t.Fatalf("ParsePongPayload failed: %v", err)
	}
	if parsedPong.PingTimestampUs != 1000 || parsedPong.PongTimestampUs != 1050 {
		t.Errorf("unexpected parsed pong: %+v", parsedPong)
	}
}
