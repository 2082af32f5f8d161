//go:build !cgo

package gstdriver

import (
	"errors"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

// ErrCGORequired is returned when GStreamer support is compiled out
var ErrCGORequired = errors.New("gstdriver: GStreamer support requires CGO")

// Driver is a stub used when CGO is disabled
type Driver struct{}

var _ vcam.Driver = (*Driver)(nil)

// New creates the stub driver
func New() *Driver {
	return &Driver{}
}

// Init always fails with ErrCGORequired
func (d *Driver) Init() error {
	return ErrCGORequired
}

// Build always fails with ErrCGORequired
func (d *Driver) Build(string) (vcam.Pipeline, error) {
	return nil, ErrCGORequired
}
