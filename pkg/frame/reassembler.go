package frame

import "github.com/achxy/serialwarp/pkg/protocol"

// pending tracks a single in-flight reassembly.
type pending struct {
	frameNumber     uint64
	ptsUs           uint64
	captureTSUs     uint64
	frameSize       uint32
	segmentCount    uint16
	receivedSegments [][]byte
	receivedCount   uint16
}

// Reassembler reconstructs Encoded frames from a stream of segments using a
// single in-flight slot. A segment belonging to a new (or different)
// frame_number discards any incomplete pending frame — this is the
// intended skip-ahead behaviour for live video, where a stale partial
// frame is worthless once a newer one starts arriving.
type Reassembler struct {
	pending *pending
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// AddSegment folds one segment's header and data into the reassembler.
// It returns the completed frame once the last segment for the current
// frame_number arrives, or nil if reassembly is still in progress.
func (r *Reassembler) AddSegment(header protocol.FrameHeader, data []byte) *Encoded {
	if r.pending == nil || r.pending.frameNumber != header.FrameNumber {
		slots := make([][]byte, header.SegmentCount)
		slots[header.SegmentIndex] = data

		r.pending = &pending{
			frameNumber:      header.FrameNumber,
			ptsUs:            header.PTSUs,
			captureTSUs:      header.CaptureTSUs,
			frameSize:        header.FrameSize,
			segmentCount:     header.SegmentCount,
			receivedSegments: slots,
			receivedCount:    1,
		}

		if header.SegmentCount == 1 {
			return r.completeFrame()
		}
		return nil
	}

	if r.pending.receivedSegments[header.SegmentIndex] != nil {
		return nil // duplicate segment, ignore
	}

	r.pending.receivedSegments[header.SegmentIndex] = data
	r.pending.receivedCount++

	if r.pending.receivedCount == r.pending.segmentCount {
		return r.completeFrame()
	}
	return nil
}

func (r *Reassembler) completeFrame() *Encoded {
	p := r.pending
	r.pending = nil
	if p == nil {
		return nil
	}

	data := make([]byte, 0, p.frameSize)
	for _, segmentData := range p.receivedSegments {
		data = append(data, segmentData...)
	}

	encoded := NewEncoded(
		NewMetadata(p.frameNumber, p.ptsUs, p.captureTSUs, false),
		data,
	)
	return &encoded
}

// Reset discards any pending incomplete frame.
func (r *Reassembler) Reset() {
	r.pending = nil
}
