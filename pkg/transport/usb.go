package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"

	"github.com/achxy/serialwarp/pkg/errors"
	"github.com/achxy/serialwarp/pkg/logger"
)

// DeviceID identifies a supported USB link-cable chipset by VID/PID.
type DeviceID struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Name      string
}

// SupportedDevices is the fixed table of known link-cable chipsets scanned
// during device discovery.
var SupportedDevices = []DeviceID{
	{VendorID: 0x067B, ProductID: 0x27A1, Name: "Prolific PL27A1"},
	{VendorID: 0x05E3, ProductID: 0x0751, Name: "Genesys GL3523"},
	{VendorID: 0x2109, ProductID: 0x0822, Name: "VIA VL822"},
}

// IsSupportedDevice reports whether the given VID/PID appears in the
// supported-device table.
func IsSupportedDevice(vendorID, productID gousb.ID) bool {
	for _, d := range SupportedDevices {
		if d.VendorID == vendorID && d.ProductID == productID {
			return true
		}
	}
	return false
}

const (
	usbOutEndpoint = 0x01
	usbInEndpoint  = 0x81
	usbInterface   = 0

	// RecvTimeout is the default per-call timeout for bulk transfers.
	RecvTimeout = 5000 * time.Millisecond

	// MaxTransferSize bounds a single bulk transfer. It equals the wire
	// protocol's maximum segment size and includes no allowance for the
	// packet header, frame header or CRC.
	MaxTransferSize = 65536
)

// USB is a framed transport over a USB bulk-endpoint link cable, backed by
// libusb via gousb.
type USB struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intfDone func()
	intf    *gousb.Interface
	outEp   *gousb.OutEndpoint
	inEp    *gousb.InEndpoint

	log logger.Logger

	connected int32
	closeOnce sync.Once
	stats     Stats

	recvTimeout time.Duration
}

// OpenUSB scans attached USB devices for a supported link-cable chipset,
// claims its default interface, and returns a ready-to-use transport.
// VendorID/ProductID override the built-in table when non-zero.
func OpenUSB(vendorID, productID uint16, recvTimeout time.Duration, log logger.Logger) (*USB, error) {
	ctx := gousb.NewContext()

	candidates := SupportedDevices
	if vendorID != 0 || productID != 0 {
		candidates = []DeviceID{{VendorID: gousb.ID(vendorID), ProductID: gousb.ID(productID), Name: "configured override"}}
	}

	var dev *gousb.Device
	var matched DeviceID
	var enumerated []string

	for _, candidate := range candidates {
		d, err := ctx.OpenDeviceWithVIDPID(candidate.VendorID, candidate.ProductID)
		if err != nil {
			enumerated = append(enumerated, fmt.Sprintf("%s (%04x:%04x): %v", candidate.Name, candidate.VendorID, candidate.ProductID, err))
			continue
		}
		if d != nil {
			dev = d
			matched = candidate
			break
		}
	}

	if dev == nil {
		ctx.Close()
		return nil, errors.NewDeviceNotFoundError(fmt.Sprintf("no supported link cable found; checked: %v", enumerated))
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Warn("failed to set auto-detach", logger.Field{Key: "error", Value: err.Error()})
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, errors.NewUsbError("failed to claim interface", err)
	}

	outEp, err := intf.OutEndpoint(usbOutEndpoint)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, errors.NewUsbError("failed to open bulk OUT endpoint", err)
	}

	inEp, err := intf.InEndpoint(usbInEndpoint)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, errors.NewUsbError("failed to open bulk IN endpoint", err)
	}

	log.Info("USB transport connected",
		logger.Field{Key: "device", Value: matched.Name},
		logger.Field{Key: "vendor_id", Value: fmt.Sprintf("0x%04X", matched.VendorID)},
		logger.Field{Key: "product_id", Value: fmt.Sprintf("0x%04X", matched.ProductID)},
	)

	if recvTimeout <= 0 {
		recvTimeout = RecvTimeout
	}

	return &USB{
		ctx:         ctx,
		dev:         dev,
		intfDone:    done,
		intf:        intf,
		outEp:       outEp,
		inEp:        inEp,
		log:         log,
		connected:   1,
		recvTimeout: recvTimeout,
	}, nil
}

// Send writes one whole packet to the bulk OUT endpoint.
func (u *USB) Send(ctx context.Context, data []byte) error {
	if !u.IsConnected() {
		return errors.NewDisconnectedError()
	}

	deadline := time.Now().Add(u.recvTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	writeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	n, err := u.outEp.WriteContext(writeCtx, data)
	if err != nil {
		u.stats.IncSendErrors()
		u.markDisconnected()
		return errors.NewIoError("bulk write failed", err)
	}
	u.stats.AddBytesSent(n)
	return nil
}

// Recv reads one whole packet from the bulk IN endpoint.
func (u *USB) Recv(ctx context.Context) ([]byte, error) {
	if !u.IsConnected() {
		return nil, errors.NewDisconnectedError()
	}

	deadline := time.Now().Add(u.recvTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	readCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	buf := make([]byte, MaxTransferSize)
	n, err := u.inEp.ReadContext(readCtx, buf)
	if err != nil {
		u.stats.IncRecvErrors()
		if readCtx.Err() != nil {
			return nil, errors.NewTimeoutError(u.recvTimeout.Milliseconds())
		}
		u.markDisconnected()
		return nil, errors.NewIoError("bulk read failed", err)
	}

	u.stats.AddBytesReceived(n)
	return buf[:n], nil
}

// IsConnected implements Transport.
func (u *USB) IsConnected() bool {
	return atomic.LoadInt32(&u.connected) != 0
}

func (u *USB) markDisconnected() {
	atomic.StoreInt32(&u.connected, 0)
}

// Close releases the interface and device handles. Safe to call more than
// once.
func (u *USB) Close() error {
	u.markDisconnected()
	var err error
	u.closeOnce.Do(func() {
		if u.intfDone != nil {
			u.intfDone()
		}
		if u.dev != nil {
			err = u.dev.Close()
		}
		if u.ctx != nil {
			u.ctx.Close()
		}
	})
	return err
}

// Stats returns the transport's traffic counters.
func (u *USB) Stats() *Stats {
	return &u.stats
}
