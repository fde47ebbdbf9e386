package frame

import (
	"bytes"
	"testing"

	"github.com/achxy/serialwarp/pkg/protocol"
)

func TestSingleSegment(t *testing.T) {
	metadata := NewMetadata(1, 1000, 1000, true)
	data := make([]byte, 1024)
	encoded := NewEncoded(metadata, data)

	segments := encoded.Segments()
	if len(segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segments))
	}
	if segments[0].SegmentIndex != 0 || segments[0].SegmentCount != 1 {
		t.Errorf("unexpected segment: %+v", segments[0])
	}
}

func TestMultipleSegments(t *testing.T) {
	metadata := NewMetadata(1, 1000, 1000, true)
	data := make([]byte, 200_000)
	for i := range data {
		data[i] = 42
	}
	encoded := NewEncoded(metadata, data)

	segments := encoded.Segments()
	if len(segments) != 4 {
		t.Fatalf("len(segments) = %d, want 4", len(segments))
	}

	var reassembled []byte
	for i, segment := range segments {
		if int(segment.SegmentIndex) != i {
			t.Errorf("segment[%d].SegmentIndex = %d", i, segment.SegmentIndex)
		}
		if segment.SegmentCount != 4 {
			t.Errorf("segment[%d].SegmentCount = %d, want 4", i, segment.SegmentCount)
		}
		if segment.FrameSize != 200_000 {
			t.Errorf("segment[%d].FrameSize = %d, want 200000", i, segment.FrameSize)
		}
		reassembled = append(reassembled, segment.Data...)
	}

	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled segment data does not match original")
	}
}

func TestFrameReassembly(t *testing.T) {
	metadata := NewMetadata(1, 1000, 1000, true)
	original := make([]byte, 200_000)
	for i := range original {
		original[i] = 42
	}
	encoded := NewEncoded(metadata, original)
	segments := encoded.Segments()

	reassembler := NewReassembler()

	for _, segment := range segments[:len(segments)-1] {
		header := protocol.NewFrameHeader(
			segment.Metadata.FrameNumber,
			segment.Metadata.PTSUs,
			segment.Metadata.CaptureTSUs,
			segment.FrameSize,
			segment.SegmentIndex,
			segment.SegmentCount,
		)
		if result := reassembler.AddSegment(header, segment.Data); result != nil {
			t.Fatal("expected nil until all segments arrive")
		}
	}

	last := segments[len(segments)-1]
	header := protocol.NewFrameHeader(
		last.Metadata.FrameNumber,
		last.Metadata.PTSUs,
		last.Metadata.CaptureTSUs,
		last.FrameSize,
		last.SegmentIndex,
		last.SegmentCount,
	)
	result := reassembler.AddSegment(header, last.Data)
	if result == nil {
		t.Fatal("expected completed frame after last segment")
	}
	if !bytes.Equal(result.Data, original) {
		t.Error("reassembled frame data mismatch")
	}
}

func TestReassemblerDuplicateSegmentIgnored(t *testing.T) {
	metadata := NewMetadata(1, 1000, 1000, true)
	data := make([]byte, 200_000)
	segments := NewEncoded(metadata, data).Segments()

	reassembler := NewReassembler()
	first := segments[0]
	header := protocol.NewFrameHeader(first.Metadata.FrameNumber, first.Metadata.PTSUs,
		first.Metadata.CaptureTSUs, first.FrameSize, first.SegmentIndex, first.SegmentCount)

	reassembler.AddSegment(header, first.Data)
	if result := reassembler.AddSegment(header, first.Data); result != nil {
		t.Error("duplicate segment should not complete or reset the frame")
	}
}

func TestReassemblerSkipsAheadOnNewerFrame(t *testing.T) {
	metadata1 := NewMetadata(1, 1000, 1000, true)
	data1 := make([]byte, 200_000)
	segments1 := NewEncoded(metadata1, data1).Segments()

	reassembler := NewReassembler()
	first := segments1[0]
	header1 := protocol.NewFrameHeader(first.Metadata.FrameNumber, first.Metadata.PTSUs,
		first.Metadata.CaptureTSUs, first.FrameSize, first.SegmentIndex, first.SegmentCount)
	reassembler.AddSegment(header1, first.Data)

	metadata2 := NewMetadata(2, 2000, 2000, true)
	data2 := make([]byte, 1024)
	segments2 := NewEncoded(metadata2, data2).Segments()
	seg2 := segments2[0]
	header2 := protocol.NewFrameHeader(seg2.Metadata.FrameNumber, seg2.Metadata.PTSUs,
		seg2.Metadata.CaptureTSUs, seg2.FrameSize, seg2.SegmentIndex, seg2.SegmentCount)

	result := reassembler.AddSegment(header2, seg2.Data)
	if result == nil {
		t.Fatal("expected frame 2 (single segment) to complete immediately")
	}
	if result.Metadata.FrameNumber != 2 {
		t.Errorf("FrameNumber = %d, want 2", result.Metadata.FrameNumber)
	}
}

func TestDecodedFramePlanes(t *testing.T) {
	width, height := uint32(4), uint32(4)
	ySize := int(width * height)
	uvSize := ySize / 4

	yuv := make([]byte, 0, ySize+uvSize*2)
	for i := 0; i < ySize; i++ {
		yuv = append(yuv, 1)
	}
	for i := 0; i < uvSize; i++ {
		yuv = append(yuv, 2)
	}
	for i := 0; i < uvSize; i++ {
		yuv = append(yuv, 3)
	}

	decoded := NewDecoded(1, 1000, width, height, yuv)

	if len(decoded.YPlane()) != 16 {
		t.Errorf("len(YPlane()) = %d, want 16", len(decoded.YPlane()))
	}
	if len(decoded.UPlane()) != 4 {
		t.Errorf("len(UPlane()) = %d, want 4", len(decoded.UPlane()))
	}
	if len(decoded.VPlane()) != 4 {
		t.Errorf("len(VPlane()) = %d, want 4", len(decoded.VPlane()))
	}
	for _, b := range decoded.YPlane() {
		if b != 1 {
			t.Fatal("YPlane byte != 1")
		}
	}
	for _, b := range decoded.UPlane() {
		if b != 2 {
			t.Fatal("UPlane byte != 2")
		}
	}
	for _, b := range decoded.VPlane() {
		if b != 3 {
			t.Fatal("VPlane byte != 3")
		}
	}
}
