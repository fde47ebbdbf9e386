// Package vdisp defines the virtual-display contract serialwarp's source
// side uses to add a monitor to the OS whose contents it captures. Real
// virtual-display creation is out of scope for this module; Display here
// is the documented contract plus an in-memory stand-in for tests.
package vdisp

import (
	"sync/atomic"

	"github.com/achxy/serialwarp/pkg/errors"
)

// ID identifies a created virtual display.
type ID uint32

// Config describes the virtual display to create.
type Config struct {
	Width  int
	Height int
	Name   string
}

// Display is a created virtual display handle.
type Display interface {
	ID() ID
	Close() error
}

var nextID int32

// New creates a virtual display with the given configuration.
func New(cfg Config) (Display, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, errors.New(errors.ErrCodeDisplayCreationFailed, "virtual display width/height must be non-zero")
	}
	id := ID(atomic.AddInt32(&nextID, 1))
	return &referenceDisplay{id: id, cfg: cfg}, nil
}

type referenceDisplay struct {
	id     ID
	cfg    Config
	closed int32
}

func (d *referenceDisplay) ID() ID {
	return d.id
}

func (d *referenceDisplay) Close() error {
	atomic.StoreInt32(&d.closed, 1)
	return nil
}
