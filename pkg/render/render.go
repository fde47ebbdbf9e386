// Package render defines the presentation contract serialwarp's sink uses
// to draw decoded frames into a window. The concrete Renderer here is
// built on github.com/mappu/miqt (Qt bindings), letterboxing each decoded
// frame into the widget the same way a reference RTSP viewer in the
// example pack does it.
package render

import (
	"unsafe"

	"github.com/mappu/miqt/qt"

	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/frame"
)

// Config configures the renderer's top-level window.
type Config struct {
	Title  string
	Width  int
	Height int
}

// Renderer presents decoded frames in a window and pumps the host
// toolkit's event loop.
type Renderer interface {
	// Present draws one decoded frame, converting YUV420P to RGB32 and
	// letterboxing it into the current widget size.
	Present(frame.Decoded) error

	// ProcessEvents pumps pending UI events without blocking.
	ProcessEvents()

	// Close tears down the window.
	Close() error
}

// qtRenderer is a single-window Qt renderer.
type qtRenderer struct {
	app    *qt.QApplication
	window *qt.QWidget
	image  *qt.QImage
}

// New creates a Qt-backed renderer with a top-level window sized per cfg.
func New(cfg Config) (Renderer, error) {
	app := qt.NewQApplication(nil)
	if app == nil {
		return nil, errors.New(errors.ErrCodeDisplayCreationFailed, "failed to create QApplication")
	}

	window := qt.NewQWidget(nil)
	window.SetWindowTitle(cfg.Title)
	window.Resize2(cfg.Width, cfg.Height)
	window.Show()

	return &qtRenderer{app: app, window: window}, nil
}

// Present converts a planar YUV420P frame to packed RGB and draws it
// letterboxed into the window, preserving aspect ratio.
func (r *qtRenderer) Present(d frame.Decoded) error {
	srcW, srcH := int(d.Width), int(d.Height)
	if srcW <= 0 || srcH <= 0 {
		return errors.New(errors.ErrCodeRenderFailed, "decoded frame has zero dimensions")
	}

	rgb := yuv420pToRGB32(d)

	img := qt.NewQImage3(srcW, srcH, qt.QImage__Format_RGB32)
	defer img.Delete()

	bits := img.Bits()
	dst := unsafe.Slice((*byte)(bits), srcW*srcH*4)
	copy(dst, rgb)

	dstW, dstH := r.window.Width(), r.window.Height()
	if dstW <= 0 || dstH <= 0 {
		return errors.New(errors.ErrCodeRenderFailed, "renderer window has zero size")
	}

	// Preserve aspect ratio: scale by the smaller of the two axis ratios
	// and center the result (letterbox/pillarbox), matching the reference
	// viewer's paint-event math.
	sx := float64(dstW) / float64(srcW)
	sy := float64(dstH) / float64(srcH)
	s := sx
	if sy < s {
		s = sy
	}
	outW := int(float64(srcW)*s + 0.5)
	outH := int(float64(srcH)*s + 0.5)
	offX := (dstW - outW) / 2
	offY := (dstH - outH) / 2

	painter := qt.NewQPainter2(r.window.QPaintDevice)
	defer painter.End()
	painter.FillRect6(r.window.Rect(), qt.NewQColor11(0, 0, 0, 255))
	dest := qt.NewQRect4(offX, offY, outW, outH)
	src := qt.NewQRect4(0, 0, srcW, srcH)
	painter.SetRenderHint2(qt.QPainter__SmoothPixmapTransform, true)
	painter.DrawImage2(dest, img, src)

	return nil
}

// ProcessEvents pumps pending Qt events without blocking, so the sink's
// main loop can race it against transport recv with a short timeout.
func (r *qtRenderer) ProcessEvents() {
	qt.QCoreApplication_ProcessEvents()
}

func (r *qtRenderer) Close() error {
	r.window.Close()
	return nil
}

// yuv420pToRGB32 is a plain BT.601 YUV->RGB conversion; correctness, not
// speed, since the heavy lifting (scaling, format conversion for encode)
// already happened in pkg/codec.
func yuv420pToRGB32(d frame.Decoded) []byte {
	w, h := int(d.Width), int(d.Height)
	y := d.YPlane()
	u := d.UPlane()
	v := d.VPlane()
	yStride := d.YStride()
	uvStride := d.UVStride()

	out := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			Y := int(y[row*yStride+col])
			U := int(u[(row/2)*uvStride+col/2]) - 128
			V := int(v[(row/2)*uvStride+col/2]) - 128

			r := clamp8(Y + (91881*V)>>16)
			g := clamp8(Y - (22554*U+46802*V)>>16)
			b := clamp8(Y + (116130*U)>>16)

			i := (row*w + col) * 4
			out[i+0] = b
			out[i+1] = g
			out[i+2] = r
			out[i+3] = 0xFF
		}
	}
	return out
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
