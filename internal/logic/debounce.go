package logic

import "time"

// Debounce suppresses input transitions that do not hold for the settling
// window. A raw level is only emitted once it has been observed
// continuously for at least the window; a level that reverts before then
// is dropped.
//
// Debounce is not safe for concurrent use.
type Debounce struct {
	window time.Duration

	// Last emitted level
	stable bool
	// Level waiting out the window
	pending      bool
	pendingSince time.Time
	hasPending   bool
}

// NewDebounce creates a filter whose last emitted level starts at initial.
// A window of zero passes every transition straight through.
func NewDebounce(window time.Duration, initial bool) *Debounce {
	if window < 0 {
		window = 0
	}
	return &Debounce{window: window, stable: initial}
}

// Window returns the settling duration.
func (d *Debounce) Window() time.Duration {
	return d.window
}

// Input records a raw level observed at the given time.
// Call Poll once the window has elapsed to collect the result.
func (d *Debounce) Input(level bool, at time.Time) {
	if level == d.stable {
		// Bounced back before settling
		d.hasPending = false
		return
	}
	if d.hasPending && d.pending == level {
		return
	}
	d.pending = level
	d.pendingSince = at
	d.hasPending = true
}

// Poll returns the settled transition, if any, as of now.
func (d *Debounce) Poll(now time.Time) (PressEvent, bool) {
	if !d.hasPending {
		return PressEvent{}, false
	}
	if now.Sub(d.pendingSince) < d.window {
		return PressEvent{}, false
	}
	d.stable = d.pending
	d.hasPending = false
	return PressEvent{Pressed: d.stable, Time: now}, true
}

// Deadline returns when the pending level would settle.
func (d *Debounce) Deadline() (time.Time, bool) {
	if !d.hasPending {
		return time.Time{}, false
	}
	return d.pendingSince.Add(d.window), true
}

// Stable returns the last emitted level.
func (d *Debounce) Stable() bool {
	return d.stable
}
