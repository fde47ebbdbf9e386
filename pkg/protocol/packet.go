// Package protocol implements the serialwarp wire format: a 16-byte
// header, a typed payload, and a trailing CRC32C over header+payload.
// All integers are little-endian.
package protocol

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/achxy/serialwarp/pkg/errors"
)

// Magic identifies a serialwarp packet: the ASCII bytes "SWRP" read as a
// big-endian number. Written little-endian, it appears on the wire as the
// bytes 0x50 0x52 0x57 0x53.
const Magic uint32 = 0x53575250

// Version is the only protocol version this package emits and accepts.
const Version uint8 = 1

// MaxSegmentSize is the largest payload a single FRAME segment may carry.
const MaxSegmentSize = 65536

// HeaderSize is the fixed size of Header on the wire.
const HeaderSize = 16

// CRCSize is the size of the trailing CRC32C field.
const CRCSize = 4

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// PacketType identifies the kind of payload a packet carries.
type PacketType uint8

const (
	PacketHello     PacketType = 0x01
	PacketHelloAck  PacketType = 0x02
	PacketStart     PacketType = 0x03
	PacketStartAck  PacketType = 0x04
	PacketFrame     PacketType = 0x10
	PacketFrameAck  PacketType = 0x11
	PacketStop      PacketType = 0x30
	PacketStopAck   PacketType = 0x31
	PacketPing      PacketType = 0x40
	PacketPong      PacketType = 0x41
)

// String returns the wire-name of the packet type, for logging.
func (t PacketType) String() string {
	switch t {
	case PacketHello:
		return "HELLO"
	case PacketHelloAck:
		return "HELLO_ACK"
	case PacketStart:
		return "START"
	case PacketStartAck:
		return "START_ACK"
	case PacketFrame:
		return "FRAME"
	case PacketFrameAck:
		return "FRAME_ACK"
	case PacketStop:
		return "STOP"
	case PacketStopAck:
		return "STOP_ACK"
	case PacketPing:
		return "PING"
	case PacketPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// ParsePacketType validates a wire byte and returns the matching PacketType.
func ParsePacketType(b uint8) (PacketType, error) {
	switch PacketType(b) {
	case PacketHello, PacketHelloAck, PacketStart, PacketStartAck,
		PacketFrame, PacketFrameAck, PacketStop, PacketStopAck,
		PacketPing, PacketPong:
		return PacketType(b), nil
	default:
		return 0, errors.NewUnknownPacketTypeError(b)
	}
}

// Header is the fixed 16-byte preamble of every packet.
type Header struct {
	Magic         uint32
	Version       uint8
	Type          PacketType
	Flags         uint16
	Sequence      uint32
	PayloadLength uint32
}

// NewHeader builds a header for an outgoing packet.
func NewHeader(t PacketType, flags uint16, sequence uint32, payloadLength uint32) Header {
	return Header{
		Magic:         Magic,
		Version:       Version,
		Type:          t,
		Flags:         flags,
		Sequence:      sequence,
		PayloadLength: payloadLength,
	}
}

// MarshalBinary writes the header in wire order.
func (h Header) MarshalBinary() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = byte(h.Type)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.Sequence)
	binary.LittleEndian.PutUint32(buf[12:16], h.PayloadLength)
	return buf
}

// ParseHeader validates and decodes a header from the front of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, errors.NewBufferTooShortError(HeaderSize, len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return Header{}, errors.NewInvalidMagicError(magic)
	}

	version := data[4]
	if version != Version {
		return Header{}, errors.NewUnsupportedVersionError(version)
	}

	packetType, err := ParsePacketType(data[5])
	if err != nil {
		return Header{}, err
	}

	return Header{
		Magic:         magic,
		Version:       version,
		Type:          packetType,
		Flags:         binary.LittleEndian.Uint16(data[6:8]),
		Sequence:      binary.LittleEndian.Uint32(data[8:12]),
		PayloadLength: binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// Packet is a complete header+payload unit, as sent or received over a
// Transport.
type Packet struct {
	Header  Header
	Payload []byte
}

// NewPacket builds an outgoing packet, computing PayloadLength from payload.
func NewPacket(t PacketType, flags uint16, sequence uint32, payload []byte) Packet {
	return Packet{
		Header:  NewHeader(t, flags, sequence, uint32(len(payload))),
		Payload: payload,
	}
}

// Type returns the packet's type for convenience.
func (p Packet) Type() PacketType {
	return p.Header.Type
}

// Sequence returns the packet's sequence number for convenience.
func (p Packet) Sequence() uint32 {
	return p.Header.Sequence
}

// MarshalBinary serializes header + payload + CRC32C(header||payload).
func (p Packet) MarshalBinary() []byte {
	total := HeaderSize + len(p.Payload) + CRCSize
	buf := make([]byte, total)
	copy(buf[0:HeaderSize], p.Header.MarshalBinary())
	copy(buf[HeaderSize:HeaderSize+len(p.Payload)], p.Payload)

	crc := crc32.Checksum(buf[:HeaderSize+len(p.Payload)], crcTable)
	binary.LittleEndian.PutUint32(buf[HeaderSize+len(p.Payload):], crc)
	return buf
}

// ParsePacket decodes one packet from the front of data, returning the
// packet and the number of bytes consumed. It verifies the CRC32C trailer
// before returning the payload.
func ParsePacket(data []byte) (Packet, int, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return Packet{}, 0, err
	}

	totalSize := HeaderSize + int(header.PayloadLength) + CRCSize
	if len(data) < totalSize {
		return Packet{}, 0, errors.NewBufferTooShortError(totalSize, len(data))
	}

	payloadEnd := HeaderSize + int(header.PayloadLength)
	payload := make([]byte, header.PayloadLength)
	copy(payload, data[HeaderSize:payloadEnd])

	expectedCRC := binary.LittleEndian.Uint32(data[payloadEnd : payloadEnd+CRCSize])
	actualCRC := crc32.Checksum(data[:payloadEnd], crcTable)
	if expectedCRC != actualCRC {
		return Packet{}, 0, errors.NewChecksumMismatchError(expectedCRC, actualCRC)
	}

	return Packet{Header: header, Payload: payload}, totalSize, nil
}
