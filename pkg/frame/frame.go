// Package frame implements segmentation of encoded video frames into
// wire-sized segments and single-slot reassembly of those segments back
// into complete frames on the receiving side.
package frame

import (
	"github.com/achxy/serialwarp/pkg/protocol"
)

// Metadata identifies a captured/encoded frame independent of its payload.
type Metadata struct {
	FrameNumber  uint64
	PTSUs        uint64
	CaptureTSUs  uint64
	IsKeyframe   bool
}

// NewMetadata builds frame metadata.
func NewMetadata(frameNumber, ptsUs, captureTSUs uint64, isKeyframe bool) Metadata {
	return Metadata{
		FrameNumber: frameNumber,
		PTSUs:       ptsUs,
		CaptureTSUs: captureTSUs,
		IsKeyframe:  isKeyframe,
	}
}

// Encoded is a complete encoded frame ready to be split into segments for
// transmission over the framed transport.
type Encoded struct {
	Metadata Metadata
	Data     []byte
}

// NewEncoded wraps metadata and the encoder's Annex-B bytes.
func NewEncoded(metadata Metadata, data []byte) Encoded {
	return Encoded{Metadata: metadata, Data: data}
}

// Segment is one piece of an Encoded frame, small enough to carry as a
// single FRAME packet's payload.
type Segment struct {
	Metadata     Metadata
	FrameSize    uint32
	SegmentIndex uint16
	SegmentCount uint16
	Data         []byte
}

// Segments splits the frame into segments of at most protocol.MaxSegmentSize
// bytes. A frame requiring more than 65535 segments is a fatal encoder
// misconfiguration and this function panics rather than silently truncate.
func (e Encoded) Segments() []Segment {
	totalSize := len(e.Data)
	segmentCount := (totalSize + protocol.MaxSegmentSize - 1) / protocol.MaxSegmentSize
	if segmentCount < 1 {
		segmentCount = 1
	}
	if segmentCount > 0xFFFF {
		panic("frame too large: requires more than 65535 segments")
	}

	if segmentCount == 1 {
		return []Segment{{
			Metadata:     e.Metadata,
			FrameSize:    uint32(totalSize),
			SegmentIndex: 0,
			SegmentCount: 1,
			Data:         e.Data,
		}}
	}

	segments := make([]Segment, 0, segmentCount)
	offset := 0
	for i := 0; i < segmentCount; i++ {
		end := offset + protocol.MaxSegmentSize
		if end > totalSize {
			end = totalSize
		}

		segments = append(segments, Segment{
			Metadata:     e.Metadata,
			FrameSize:    uint32(totalSize),
			SegmentIndex: uint16(i),
			SegmentCount: uint16(segmentCount),
			Data:         e.Data[offset:end],
		})
		offset = end
	}

	return segments
}

// Payload builds the FRAME packet payload for this segment: a FrameHeader
// followed by the segment's raw bytes.
func (s Segment) Payload() []byte {
	header := protocol.NewFrameHeader(
		s.Metadata.FrameNumber,
		s.Metadata.PTSUs,
		s.Metadata.CaptureTSUs,
		s.FrameSize,
		s.SegmentIndex,
		s.SegmentCount,
	)

	buf := make([]byte, protocol.FrameHeaderSize+len(s.Data))
	copy(buf, header.MarshalBinary())
	copy(buf[protocol.FrameHeaderSize:], s.Data)
	return buf
}
