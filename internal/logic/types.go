// Package logic contains the pure dataflow pieces of one relay channel:
// debounce, toggle, state cell, fan-out and repeater.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the display form of a relay's boolean state.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a logical relay value to its display form.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Reason says why a PublishEvent was produced.
type Reason string

const (
	// ReasonChange is a publish forwarded immediately after a write.
	ReasonChange Reason = "change"
	// ReasonRepeat is a publish produced by the repeater's timer.
	ReasonRepeat Reason = "repeat"
)

// Origin identifies which writer changed a relay.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// PressEvent is a debounced input transition.
type PressEvent struct {
	Pressed bool // true = button down
	Time    time.Time
}

// PublishEvent carries a relay value to the remote telemetry sink.
type PublishEvent struct {
	Path      string
	Value     bool
	Reason    Reason
	Timestamp time.Time
}

// RemoteCommand is an externally requested relay value for one path.
type RemoteCommand struct {
	Path   string
	Value  bool
	Source string // transport name, e.g. "mqtt", "signalk", "http"
}
