package protocol

import (
	"encoding/binary"

	"github.com/achxy/serialwarp/pkg/errors"
)

// HelloPayload is the HELLO/HELLO_ACK payload (28 bytes): capability
// negotiation exchanged once at the start of a session.
type HelloPayload struct {
	SoftwareVersion   uint16
	MinProtoVersion   uint16
	MaxProtoVersion   uint16
	Reserved1         uint16
	MaxWidth          uint32
	MaxHeight         uint32
	MaxFPSFixed       uint32 // fixed-point 16.16
	Capabilities      uint32
	Reserved2         uint32
}

// HelloPayloadSize is the wire size of HelloPayload.
const HelloPayloadSize = 28

const (
	CapabilityHiDPI uint32 = 1 << 0
	CapabilityAudio uint32 = 1 << 1
)

// NewHelloPayload builds a HELLO payload advertising the given limits.
func NewHelloPayload(softwareVersion uint16, maxWidth, maxHeight, maxFPS, capabilities uint32) HelloPayload {
	return HelloPayload{
		SoftwareVersion: softwareVersion,
		MinProtoVersion: uint16(Version),
		MaxProtoVersion: uint16(Version),
		MaxWidth:        maxWidth,
		MaxHeight:       maxHeight,
		MaxFPSFixed:     maxFPS << 16,
		Capabilities:    capabilities,
	}
}

// MaxFPS extracts the whole-number FPS from the fixed-point field.
func (h HelloPayload) MaxFPS() uint32 {
	return h.MaxFPSFixed >> 16
}

// SupportsHiDPI reports whether the HiDPI capability bit is set.
func (h HelloPayload) SupportsHiDPI() bool {
	return h.Capabilities&CapabilityHiDPI != 0
}

// SupportsAudio reports whether the audio capability bit is set.
func (h HelloPayload) SupportsAudio() bool {
	return h.Capabilities&CapabilityAudio != 0
}

// MarshalBinary encodes the HELLO payload.
func (h HelloPayload) MarshalBinary() []byte {
	buf := make([]byte, HelloPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.SoftwareVersion)
	binary.LittleEndian.PutUint16(buf[2:4], h.MinProtoVersion)
	binary.LittleEndian.PutUint16(buf[4:6], h.MaxProtoVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.Reserved1)
	binary.LittleEndian.PutUint32(buf[8:12], h.MaxWidth)
	binary.LittleEndian.PutUint32(buf[12:16], h.MaxHeight)
	binary.LittleEndian.PutUint32(buf[16:20], h.MaxFPSFixed)
	binary.LittleEndian.PutUint32(buf[20:24], h.Capabilities)
	binary.LittleEndian.PutUint32(buf[24:28], h.Reserved2)
	return buf
}

// ParseHelloPayload decodes a HELLO payload.
func ParseHelloPayload(data []byte) (HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return HelloPayload{}, errors.NewInvalidPayloadLengthError(HelloPayloadSize, len(data))
	}
	return HelloPayload{
		SoftwareVersion: binary.LittleEndian.Uint16(data[0:2]),
		MinProtoVersion: binary.LittleEndian.Uint16(data[2:4]),
		MaxProtoVersion: binary.LittleEndian.Uint16(data[4:6]),
		Reserved1:       binary.LittleEndian.Uint16(data[6:8]),
		MaxWidth:        binary.LittleEndian.Uint32(data[8:12]),
		MaxHeight:       binary.LittleEndian.Uint32(data[12:16]),
		MaxFPSFixed:     binary.LittleEndian.Uint32(data[16:20]),
		Capabilities:    binary.LittleEndian.Uint32(data[20:24]),
		Reserved2:       binary.LittleEndian.Uint32(data[24:28]),
	}, nil
}

// StartPayload is the START payload (24 bytes): the negotiated stream
// parameters the source is about to begin sending.
type StartPayload struct {
	Width            uint32
	Height           uint32
	FPSFixed         uint32 // fixed-point 16.16
	BitrateBPS       uint32
	PixelFormat      uint8
	AudioEnabled     uint8
	AudioSampleRate  uint16
	AudioChannels    uint8
	AudioBits        uint8
	Reserved         uint16
}

// StartPayloadSize is the wire size of StartPayload.
const StartPayloadSize = 24

// PixelFormatNV12 is the only pixel format defined so far.
const PixelFormatNV12 uint8 = 0

// NewStartPayload builds a START payload for the given stream parameters.
func NewStartPayload(width, height, fps, bitrateBPS uint32) StartPayload {
	return StartPayload{
		Width:       width,
		Height:      height,
		FPSFixed:    fps << 16,
		BitrateBPS:  bitrateBPS,
		PixelFormat: PixelFormatNV12,
	}
}

// FPS extracts the whole-number FPS from the fixed-point field.
func (s StartPayload) FPS() uint32 {
	return s.FPSFixed >> 16
}

// MarshalBinary encodes the START payload.
func (s StartPayload) MarshalBinary() []byte {
	buf := make([]byte, StartPayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Width)
	binary.LittleEndian.PutUint32(buf[4:8], s.Height)
	binary.LittleEndian.PutUint32(buf[8:12], s.FPSFixed)
	binary.LittleEndian.PutUint32(buf[12:16], s.BitrateBPS)
	buf[16] = s.PixelFormat
	buf[17] = s.AudioEnabled
	binary.LittleEndian.PutUint16(buf[18:20], s.AudioSampleRate)
	buf[20] = s.AudioChannels
	buf[21] = s.AudioBits
	binary.LittleEndian.PutUint16(buf[22:24], s.Reserved)
	return buf
}

// ParseStartPayload decodes and validates a START payload. Width and
// height of zero are rejected, matching the source's minimum contract.
func ParseStartPayload(data []byte) (StartPayload, error) {
	if len(data) < StartPayloadSize {
		return StartPayload{}, errors.NewInvalidPayloadLengthError(StartPayloadSize, len(data))
	}

	width := binary.LittleEndian.Uint32(data[0:4])
	height := binary.LittleEndian.Uint32(data[4:8])
	if width == 0 || height == 0 {
		return StartPayload{}, errors.New(errors.ErrCodeInvalidPayloadLength, "width and height must be non-zero")
	}

	return StartPayload{
		Width:           width,
		Height:          height,
		FPSFixed:        binary.LittleEndian.Uint32(data[8:12]),
		BitrateBPS:      binary.LittleEndian.Uint32(data[12:16]),
		PixelFormat:     data[16],
		AudioEnabled:    data[17],
		AudioSampleRate: binary.LittleEndian.Uint16(data[18:20]),
		AudioChannels:   data[20],
		AudioBits:       data[21],
		Reserved:        binary.LittleEndian.Uint16(data[22:24]),
	}, nil
}

// StartAckPayload is the START_ACK payload (4 bytes).
type StartAckPayload struct {
	Status         uint8
	Reserved       uint8
	InitialCredits uint16
}

// StartAckPayloadSize is the wire size of StartAckPayload.
const StartAckPayloadSize = 4

// DefaultInitialCredits is the credit grant used when none is configured.
const DefaultInitialCredits uint16 = 8

// NewStartAckPayload builds a START_ACK payload with the given status and
// credit grant.
func NewStartAckPayload(status uint8, initialCredits uint16) StartAckPayload {
	return StartAckPayload{Status: status, InitialCredits: initialCredits}
}

// OkStartAck builds a success START_ACK granting initialCredits.
func OkStartAck(initialCredits uint16) StartAckPayload {
	return NewStartAckPayload(0, initialCredits)
}

// IsOk reports whether the acknowledged start succeeded.
func (s StartAckPayload) IsOk() bool {
	return s.Status == 0
}

// MarshalBinary encodes the START_ACK payload.
func (s StartAckPayload) MarshalBinary() []byte {
	buf := make([]byte, StartAckPayloadSize)
	buf[0] = s.Status
	buf[1] = s.Reserved
	binary.LittleEndian.PutUint16(buf[2:4], s.InitialCredits)
	return buf
}

// ParseStartAckPayload decodes a START_ACK payload.
func ParseStartAckPayload(data []byte) (StartAckPayload, error) {
	if len(data) < StartAckPayloadSize {
		return StartAckPayload{}, errors.NewInvalidPayloadLengthError(StartAckPayloadSize, len(data))
	}
	return StartAckPayload{
		Status:         data[0],
		Reserved:       data[1],
		InitialCredits: binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// FrameHeader precedes one segment's worth of encoded data inside a FRAME
// packet's payload (32 bytes).
type FrameHeader struct {
	FrameNumber   uint64
	PTSUs         uint64
	CaptureTSUs   uint64
	FrameSize     uint32
	SegmentIndex  uint16
	SegmentCount  uint16
}

// FrameHeaderSize is the wire size of FrameHeader.
const FrameHeaderSize = 32

// NewFrameHeader builds a frame header for one segment.
func NewFrameHeader(frameNumber, ptsUs, captureTSUs uint64, frameSize uint32, segmentIndex, segmentCount uint16) FrameHeader {
	return FrameHeader{
		FrameNumber:  frameNumber,
		PTSUs:        ptsUs,
		CaptureTSUs:  captureTSUs,
		FrameSize:    frameSize,
		SegmentIndex: segmentIndex,
		SegmentCount: segmentCount,
	}
}

// MarshalBinary encodes the frame header.
func (f FrameHeader) MarshalBinary() []byte {
	buf := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.FrameNumber)
	binary.LittleEndian.PutUint64(buf[8:16], f.PTSUs)
	binary.LittleEndian.PutUint64(buf[16:24], f.CaptureTSUs)
	binary.LittleEndian.PutUint32(buf[24:28], f.FrameSize)
	binary.LittleEndian.PutUint16(buf[28:30], f.SegmentIndex)
	binary.LittleEndian.PutUint16(buf[30:32], f.SegmentCount)
	return buf
}

// ParseFrameHeader decodes and validates a frame header: segment_count
// must be non-zero and segment_index must be strictly less than it.
func ParseFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, errors.NewInvalidPayloadLengthError(FrameHeaderSize, len(data))
	}

	segmentCount := binary.LittleEndian.Uint16(data[30:32])
	segmentIndex := binary.LittleEndian.Uint16(data[28:30])
	if segmentCount == 0 {
		return FrameHeader{}, errors.NewFrameReassemblyError("segment_count cannot be zero")
	}
	if segmentIndex >= segmentCount {
		return FrameHeader{}, errors.NewFrameReassemblyError("segment_index must be less than segment_count")
	}

	return FrameHeader{
		FrameNumber:  binary.LittleEndian.Uint64(data[0:8]),
		PTSUs:        binary.LittleEndian.Uint64(data[8:16]),
		CaptureTSUs:  binary.LittleEndian.Uint64(data[16:24]),
		FrameSize:    binary.LittleEndian.Uint32(data[24:28]),
		SegmentIndex: segmentIndex,
		SegmentCount: segmentCount,
	}, nil
}

// FrameAckPayload is the FRAME_ACK payload (16 bytes).
type FrameAckPayload struct {
	FrameNumber     uint64
	DecodeTimeUs    uint32
	CreditsReturned uint16
	Reserved        uint16
}

// FrameAckPayloadSize is the wire size of FrameAckPayload.
const FrameAckPayloadSize = 16

// NewFrameAckPayload builds a FRAME_ACK payload.
func NewFrameAckPayload(frameNumber uint64, decodeTimeUs uint32, creditsReturned uint16) FrameAckPayload {
	return FrameAckPayload{
		FrameNumber:     frameNumber,
		DecodeTimeUs:    decodeTimeUs,
		CreditsReturned: creditsReturned,
	}
}

// MarshalBinary encodes the FRAME_ACK payload.
func (f FrameAckPayload) MarshalBinary() []byte {
	buf := make([]byte, FrameAckPayloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.FrameNumber)
	binary.LittleEndian.PutUint32(buf[8:12], f.DecodeTimeUs)
	binary.LittleEndian.PutUint16(buf[12:14], f.CreditsReturned)
	binary.LittleEndian.PutUint16(buf[14:16], f.Reserved)
	return buf
}

// ParseFrameAckPayload decodes a FRAME_ACK payload.
func ParseFrameAckPayload(data []byte) (FrameAckPayload, error) {
	if len(data) < FrameAckPayloadSize {
		return FrameAckPayload{}, errors.NewInvalidPayloadLengthError(FrameAckPayloadSize, len(data))
	}
	return FrameAckPayload{
		FrameNumber:     binary.LittleEndian.Uint64(data[0:8]),
		DecodeTimeUs:    binary.LittleEndian.Uint32(data[8:12]),
		CreditsReturned: binary.LittleEndian.Uint16(data[12:14]),
		Reserved:        binary.LittleEndian.Uint16(data[14:16]),
	}, nil
}

// PingPayload is the PING payload (8 bytes).
type PingPayload struct {
	TimestampUs uint64
}

// PingPayloadSize is the wire size of PingPayload.
const PingPayloadSize = 8

// NewPingPayload builds a PING payload carrying timestampUs.
func NewPingPayload(timestampUs uint64) PingPayload {
	return PingPayload{TimestampUs: timestampUs}
}

// MarshalBinary encodes the PING payload.
func (p PingPayload) MarshalBinary() []byte {
	buf := make([]byte, PingPayloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.TimestampUs)
	return buf
}

// ParsePingPayload decodes a PING payload.
func ParsePingPayload(data []byte) (PingPayload, error) {
	if len(data) < PingPayloadSize {
		return PingPayload{}, errors.NewInvalidPayloadLengthError(PingPayloadSize, len(data))
	}
	return PingPayload{TimestampUs: binary.LittleEndian.Uint64(data[0:8])}, nil
}

// PongPayload is the PONG payload (16 bytes).
type PongPayload struct {
	PingTimestampUs uint64
	PongTimestampUs uint64
}

// PongPayloadSize is the wire size of PongPayload.
const PongPayloadSize = 16

// NewPongPayload builds a PONG payload echoing pingTimestampUs.
func NewPongPayload(pingTimestampUs, pongTimestampUs uint64) PongPayload {
	return PongPayload{PingTimestampUs: pingTimestampUs, PongTimestampUs: pongTimestampUs}
}

// MarshalBinary encodes the PONG payload.
func (p PongPayload) MarshalBinary() []byte {
	buf := make([]byte, PongPayloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.PingTimestampUs)
	binary.LittleEndian.PutUint64(buf[8:16], p.PongTimestampUs)
	return buf
}

// ParsePongPayload decodes a PONG payload.
func ParsePongPayload(data []byte) (PongPayload, error) {
	if len(data) < PongPayloadSize {
		return PongPayload{}, errors.NewInvalidPayloadLengthError(PongPayloadSize, len(data))
	}
	return PongPayload{
		PingTimestampUs: binary.LittleEndian.Uint64(data[0:8]),
		PongTimestampUs: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}
