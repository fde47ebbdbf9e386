// Package codec wraps libav's H.264 encoder/decoder (via go-astiav) behind
// the narrow interface serialwarp's source and sink loops need: raw BGRA
// in, Annex-B access units out on the source side; Annex-B in, planar
// YUV420P frames out on the sink side.
package codec

import (
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/frame"
	"github.com/achxy/serialwarp/pkg/logger"
)

// EncoderConfig configures a new Encoder session.
type EncoderConfig struct {
	Width            int
	Height           int
	FPS              int
	BitrateBPS       int64
	KeyframeInterval int
}

// outputChanCapacity matches the bounded, try-send/drop-on-full channel
// convention used throughout serialwarp's producer side.
const outputChanCapacity = 16

// Encoder owns an H.264 encode session and publishes encoded access units
// on a bounded output channel.
type Encoder struct {
	mu     sync.Mutex
	ctx    *astiav.CodecContext
	scaler *astiav.SoftwareScaleContext
	dstFrm *astiav.Frame
	pkt    *astiav.Packet

	cfg    EncoderConfig
	log    logger.Logger
	output chan frame.Encoded

	frameNumber uint64
}

// NewEncoder opens an H.264 encoder for the given configuration.
func NewEncoder(cfg EncoderConfig, log logger.Logger) (*Encoder, error) {
	enc := astiav.FindEncoder(astiav.CodecIDH264)
	if enc == nil {
		return nil, errors.New(errors.ErrCodeEncoderSessionFailed, "h264 encoder not available")
	}

	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeEncoderSessionFailed, "failed to allocate codec context")
	}

	ctx.SetWidth(cfg.Width)
	ctx.SetHeight(cfg.Height)
	ctx.SetTimeBase(astiav.NewRational(1, cfg.FPS))
	ctx.SetFramerate(astiav.NewRational(cfg.FPS, 1))
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetBitRate(cfg.BitrateBPS)
	ctx.SetGopSize(cfg.KeyframeInterval)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("preset", "ultrafast", 0)
	_ = opts.Set("tune", "zerolatency", 0)

	if err := ctx.Open(enc, opts); err != nil {
		ctx.Free()
		return nil, errors.Wrap(errors.ErrCodeEncoderSessionFailed, "failed to open h264 encoder", err)
	}

	return &Encoder{
		ctx:    ctx,
		pkt:    astiav.AllocPacket(),
		cfg:    cfg,
		log:    log,
		output: make(chan frame.Encoded, outputChanCapacity),
	}, nil
}

// Output returns the channel carrying encoded frames in emission order.
func (e *Encoder) Output() <-chan frame.Encoded {
	return e.output
}

// EncodeRaw submits one BGRA raw frame for encoding, converting it to the
// encoder's native YUV420P via a software scale. forceKeyframe is
// accepted at the API boundary but nothing in the producer loop sets it
// true yet; cadence is governed entirely by KeyframeInterval.
func (e *Encoder) EncodeRaw(bgra []byte, width, height int, ptsUs, captureTSUs uint64, forceKeyframe bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureScaler(width, height); err != nil {
		return err
	}

	src := astiav.AllocFrame()
	defer src.Free()
	src.SetWidth(width)
	src.SetHeight(height)
	src.SetPixelFormat(astiav.PixelFormatBgra)
	if err := src.AllocBuffer(1); err != nil {
		return errors.Wrap(errors.ErrCodeCodecInvalidInput, "failed to allocate source frame buffer", err)
	}
	if _, err := src.ImageCopyFromBuffer(bgra, 1); err != nil {
		return errors.Wrap(errors.ErrCodeCodecInvalidInput, "failed to copy raw frame into source buffer", err)
	}

	if err := e.scaler.ScaleFrame(src, e.dstFrm); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFrameFailed, "scale to yuv420p failed", err)
	}
	e.dstFrm.SetPictureType(astiav.PictureTypeNone)
	if forceKeyframe {
		e.dstFrm.SetPictureType(astiav.PictureTypeI)
	}

	if err := e.ctx.SendFrame(e.dstFrm); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFrameFailed, "SendFrame failed", err)
	}

	for {
		err := e.ctx.ReceivePacket(e.pkt)
		if err != nil {
			break
		}

		data := make([]byte, e.pkt.Size())
		copy(data, e.pkt.Data())

		isKeyframe := e.pkt.Flags()&astiav.PacketFlagKey != 0
		meta := frame.NewMetadata(e.frameNumber, ptsUs, captureTSUs, isKeyframe)
		e.frameNumber++

		select {
		case e.output <- frame.NewEncoded(meta, data):
		default:
			e.log.Warn("encoder output dropped, sink not keeping up", logger.Field{Key: "frame_number", Value: meta.FrameNumber})
		}

		e.pkt.Unref()
	}

	return nil
}

func (e *Encoder) ensureScaler(width, height int) error {
	if e.scaler != nil {
		return nil
	}

	flags := astiav.NewSoftwareScaleContextFlags()
	ssc, err := astiav.CreateSoftwareScaleContext(width, height, astiav.PixelFormatBgra, width, height, astiav.PixelFormatYuv420P, flags)
	if err != nil {
		return errors.Wrap(errors.ErrCodeEncoderSessionFailed, "failed to create software scale context", err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(width)
	dst.SetHeight(height)
	dst.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return errors.Wrap(errors.ErrCodeEncoderSessionFailed, "failed to allocate scaler destination frame", err)
	}

	e.scaler = ssc
	e.dstFrm = dst
	return nil
}

// Flush drains any frames buffered inside the encoder.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ctx.SendFrame(nil); err != nil {
		return errors.Wrap(errors.ErrCodeFlushFailed, "flush SendFrame failed", err)
	}
	for e.ctx.ReceivePacket(e.pkt) == nil {
		data := make([]byte, e.pkt.Size())
		copy(data, e.pkt.Data())
		meta := frame.NewMetadata(e.frameNumber, 0, 0, false)
		e.frameNumber++
		select {
		case e.output <- frame.NewEncoded(meta, data):
		default:
		}
		e.pkt.Unref()
	}
	return nil
}

// Close releases all codec resources and closes the output channel.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dstFrm != nil {
		e.dstFrm.Free()
	}
	if e.scaler != nil {
		e.scaler.Free()
	}
	if e.pkt != nil {
		e.pkt.Free()
	}
	if e.ctx != nil {
		e.ctx.Free()
	}
	close(e.output)
	return nil
}

func (cfg EncoderConfig) String() string {
	return fmt.Sprintf("%dx%d@%dfps %dbps", cfg.Width, cfg.Height, cfg.FPS, cfg.BitrateBPS)
}
