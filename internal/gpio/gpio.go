// Package gpio provides digital input and output lines with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// Edge is a change of a logical input level.
// Level true means active (button pressed on a pull-up input).
type Edge struct {
	Pin   int
	Level bool
	Time  time.Time
}

// EdgeHandler receives input edges. It is called from a driver goroutine
// and must not block.
type EdgeHandler func(Edge)

// Output drives one digital output line with a logical level.
type Output interface {
	// Set drives the line. Active-low inversion, if any, is applied by the
	// driver: true always means "on".
	Set(on bool) error
}

// Driver hands out lines by BCM pin number.
type Driver interface {
	// Output requests pin as an output initialised to the logical level initial.
	Output(pin int, activeLow bool, initial bool) (Output, error)

	// WatchInput requests pin as a pulled-up input reporting both edges to h.
	// Inputs are active-low: a grounded pin reads as logical true.
	WatchInput(pin int, h EdgeHandler) error

	// Free releases one previously requested line.
	Free(pin int) error

	// Close releases all lines.
	Close() error
}

// Default pin assignment (BCM numbering) of the four-relay board.
var (
	DefaultButtonPins = []int{16, 17, 18, 19}
	DefaultLEDPins    = []int{12, 13, 14, 15}
	DefaultRelayPins  = []int{32, 33, 25, 26}
)
