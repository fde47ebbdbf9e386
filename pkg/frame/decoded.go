package frame

// Decoded is a decoded video frame ready for rendering: planar YUV420P
// data, Y plane followed by U plane followed by V plane.
type Decoded struct {
	FrameNumber uint64
	PTSUs       uint64
	Width       uint32
	Height      uint32
	yuvData     []byte
}

// NewDecoded wraps a planar YUV420P buffer with its frame identity.
func NewDecoded(frameNumber, ptsUs uint64, width, height uint32, yuvData []byte) Decoded {
	return Decoded{
		FrameNumber: frameNumber,
		PTSUs:       ptsUs,
		Width:       width,
		Height:      height,
		yuvData:     yuvData,
	}
}

// YPlane returns the luma plane.
func (d Decoded) YPlane() []byte {
	ySize := int(d.Width * d.Height)
	return d.yuvData[:ySize]
}

// UPlane returns the chroma-blue plane.
func (d Decoded) UPlane() []byte {
	ySize := int(d.Width * d.Height)
	uvSize := ySize / 4
	return d.yuvData[ySize : ySize+uvSize]
}

// VPlane returns the chroma-red plane.
func (d Decoded) VPlane() []byte {
	ySize := int(d.Width * d.Height)
	uvSize := ySize / 4
	return d.yuvData[ySize+uvSize:]
}

// YStride returns the Y plane's bytes-per-row.
func (d Decoded) YStride() int {
	return int(d.Width)
}

// UVStride returns the U/V planes' bytes-per-row.
func (d Decoded) UVStride() int {
	return int(d.Width / 2)
}
