//go:build !linux

package gpio

import "errors"

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(chipName string) (*RealDriver, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Output is not implemented on non-Linux platforms.
func (d *RealDriver) Output(pin int, activeLow bool, initial bool) (Output, error) {
	return nil, errors.New("gpio: not supported")
}

// WatchInput is not implemented on non-Linux platforms.
func (d *RealDriver) WatchInput(pin int, h EdgeHandler) error {
	return errors.New("gpio: not supported")
}

// Free is not implemented on non-Linux platforms.
func (d *RealDriver) Free(pin int) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
