// Package capture defines the screen-capture contract serialwarp's source
// side drives. Screen capture itself is out of scope for this module; the
// reference Source here is a deterministic, platform-neutral stand-in the
// state machine can exercise in tests.
package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/achxy/serialwarp/pkg/errors"
)

// Config selects what to capture.
type Config struct {
	DisplayID uint32
	Width     int
	Height    int
	FPS       int
}

// DefaultConfig returns a 1080p60 capture configuration.
func DefaultConfig() Config {
	return Config{Width: 1920, Height: 1080, FPS: 60}
}

// Frame is one captured raw frame: tightly packed BGRA plus timing.
type Frame struct {
	PixelData   []byte
	Width       int
	Height      int
	PTSUs       uint64
	CaptureTSUs uint64
	FrameNumber uint64
	IsKeyframe  bool
}

// frameChanCapacity bounds buffered frames so a slow consumer drops
// frames instead of blocking the capture callback.
const frameChanCapacity = 8

// Source produces a bounded stream of captured frames.
type Source interface {
	// Next blocks until a frame is available, ctx is canceled, or the
	// source is stopped.
	Next(ctx context.Context) (Frame, error)

	// Stop halts capture. Safe to call more than once.
	Stop()

	// FrameCount returns the number of frames captured so far.
	FrameCount() uint64
}

// Open starts a reference capture stream. It never touches real display
// hardware; it exists so pkg/source's producer loop has something to
// drive end to end without a macOS ScreenCaptureKit dependency.
func Open(cfg Config) (Source, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, errors.New(errors.ErrCodeCodecInvalidInput, "capture width/height must be non-zero")
	}

	s := &referenceSource{
		cfg:     cfg,
		frames:  make(chan Frame, frameChanCapacity),
		running: 1,
		stop:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type referenceSource struct {
	cfg        Config
	frames     chan Frame
	running    int32
	stop       chan struct{}
	frameCount uint64
}

func (s *referenceSource) run() {
	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frameSize := s.cfg.Width * s.cfg.Height * 4
	for {
		select {
		case <-s.stop:
			close(s.frames)
			return
		case now := <-ticker.C:
			if atomic.LoadInt32(&s.running) == 0 {
				continue
			}
			n := atomic.AddUint64(&s.frameCount, 1) - 1
			f := Frame{
				PixelData:   make([]byte, frameSize),
				Width:       s.cfg.Width,
				Height:      s.cfg.Height,
				PTSUs:       uint64(now.UnixMicro()),
				CaptureTSUs: uint64(now.UnixMicro()),
				FrameNumber: n,
				IsKeyframe:  n%30 == 0,
			}
			select {
			case s.frames <- f:
			default:
				// backpressure: drop, matching the capture backend's
				// try-send policy
			}
		}
	}
}

func (s *referenceSource) Next(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return Frame{}, errors.NewChannelClosedError()
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *referenceSource) Stop() {
	if atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		close(s.stop)
	}
}

func (s *referenceSource) FrameCount() uint64 {
	return atomic.LoadUint64(&s.frameCount)
}
