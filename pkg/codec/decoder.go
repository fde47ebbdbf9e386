package codec

import (
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/frame"
)

// Decoder owns an H.264 decode session and turns Annex-B access units
// into planar YUV420P frames.
type Decoder struct {
	mu  sync.Mutex
	ctx *astiav.CodecContext
	pkt *astiav.Packet
	frm *astiav.Frame

	width, height int
}

// NewDecoder opens an H.264 decoder for frames of the given dimensions,
// as negotiated by START.
func NewDecoder(width, height int) (*Decoder, error) {
	dec := astiav.FindDecoder(astiav.CodecIDH264)
	if dec == nil {
		return nil, errors.New(errors.ErrCodeDecoderSessionFailed, "h264 decoder not available")
	}

	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeDecoderSessionFailed, "failed to allocate codec context")
	}
	ctx.SetWidth(width)
	ctx.SetHeight(height)

	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return nil, errors.Wrap(errors.ErrCodeDecoderSessionFailed, "failed to open h264 decoder", err)
	}

	return &Decoder{
		ctx:    ctx,
		pkt:    astiav.AllocPacket(),
		frm:    astiav.AllocFrame(),
		width:  width,
		height: height,
	}, nil
}

// DecodeAnnexB submits one reassembled access unit and returns every
// decoded frame it produces (usually zero or one, occasionally more when
// the decoder has B-frames buffered).
func (d *Decoder) DecodeAnnexB(data []byte, frameNumber, ptsUs uint64) ([]frame.Decoded, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.pkt.FromData(data); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCodecInvalidInput, "failed to wrap access unit in packet", err)
	}
	defer d.pkt.Unref()

	if err := d.ctx.SendPacket(d.pkt); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFrameFailed, "SendPacket failed", err)
	}

	var out []frame.Decoded
	for {
		err := d.ctx.ReceiveFrame(d.frm)
		if err != nil {
			break
		}

		ySize := d.frm.Width() * d.frm.Height()
		uvSize := ySize / 4
		yuv := make([]byte, 0, ySize+2*uvSize)

		yPlane, err := d.frm.Data().Bytes(0)
		if err != nil {
			d.frm.Unref()
			return out, errors.Wrap(errors.ErrCodeDecodeFrameFailed, "failed to read Y plane", err)
		}
		uPlane, err := d.frm.Data().Bytes(1)
		if err != nil {
			d.frm.Unref()
			return out, errors.Wrap(errors.ErrCodeDecodeFrameFailed, "failed to read U plane", err)
		}
		vPlane, err := d.frm.Data().Bytes(2)
		if err != nil {
			d.frm.Unref()
			return out, errors.Wrap(errors.ErrCodeDecodeFrameFailed, "failed to read V plane", err)
		}

		yuv = append(yuv, yPlane[:ySize]...)
		yuv = append(yuv, uPlane[:uvSize]...)
		yuv = append(yuv, vPlane[:uvSize]...)

		out = append(out, frame.NewDecoded(frameNumber, ptsUs, uint32(d.frm.Width()), uint32(d.frm.Height()), yuv))
		d.frm.Unref()
	}

	return out, nil
}

// Flush drains any frames buffered inside the decoder.
func (d *Decoder) Flush() ([]frame.Decoded, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ctx.SendPacket(nil); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFlushFailed, "flush SendPacket failed", err)
	}

	var out []frame.Decoded
	for d.ctx.ReceiveFrame(d.frm) == nil {
		ySize := d.frm.Width() * d.frm.Height()
		uvSize := ySize / 4
		yuv := make([]byte, 0, ySize+2*uvSize)
		if yPlane, err := d.frm.Data().Bytes(0); err == nil {
			yuv = append(yuv, yPlane[:ySize]...)
		}
		if uPlane, err := d.frm.Data().Bytes(1); err == nil {
			yuv = append(yuv, uPlane[:uvSize]...)
		}
		if vPlane, err := d.frm.Data().Bytes(2); err == nil {
			yuv = append(yuv, vPlane[:uvSize]...)
		}
		out = append(out, frame.NewDecoded(0, 0, uint32(d.frm.Width()), uint32(d.frm.Height()), yuv))
		d.frm.Unref()
	}
	return out, nil
}

// Close releases all codec resources.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frm != nil {
		d.frm.Free()
	}
	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.ctx != nil {
		d.ctx.Free()
	}
	return nil
}
