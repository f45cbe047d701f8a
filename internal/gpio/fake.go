package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// FakeDriver is a test double that records output writes and lets tests
// inject input edges.
type FakeDriver struct {
	mu sync.Mutex

	// Writes contains every level written per output pin, including the
	// initial level.
	Writes map[int][]bool

	// ActiveLow records the polarity each output pin was requested with.
	ActiveLow map[int]bool

	handlers map[int]EdgeHandler

	// OutputError, if set, is returned by every Set call.
	OutputError error

	// Freed lists pins passed to Free, in order.
	Freed []int

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Writes:    make(map[int][]bool),
		ActiveLow: make(map[int]bool),
		handlers:  make(map[int]EdgeHandler),
	}
}

type fakeOutput struct {
	d   *FakeDriver
	pin int
}

func (o *fakeOutput) Set(on bool) error {
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	if o.d.OutputError != nil {
		return o.d.OutputError
	}
	o.d.Writes[o.pin] = append(o.d.Writes[o.pin], on)
	return nil
}

// Output records the request and returns a recording output.
func (f *FakeDriver) Output(pin int, activeLow bool, initial bool) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Writes[pin]; ok {
		return nil, fmt.Errorf("pin %d already requested", pin)
	}
	if _, ok := f.handlers[pin]; ok {
		return nil, fmt.Errorf("pin %d already requested", pin)
	}
	f.Writes[pin] = []bool{initial}
	f.ActiveLow[pin] = activeLow
	return &fakeOutput{d: f, pin: pin}, nil
}

// WatchInput registers h for Press/Release calls on pin.
func (f *FakeDriver) WatchInput(pin int, h EdgeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[pin]; ok {
		return fmt.Errorf("pin %d already requested", pin)
	}
	if _, ok := f.Writes[pin]; ok {
		return fmt.Errorf("pin %d already requested", pin)
	}
	f.handlers[pin] = h
	return nil
}

// Inject delivers an edge to the handler watching pin.
func (f *FakeDriver) Inject(pin int, level bool, at time.Time) error {
	f.mu.Lock()
	h, ok := f.handlers[pin]
	f.mu.Unlock()
	if !ok {
		return errors.New("no input watched on pin")
	}
	h(Edge{Pin: pin, Level: level, Time: at})
	return nil
}

// Press injects a press (active) edge.
func (f *FakeDriver) Press(pin int, at time.Time) error {
	return f.Inject(pin, true, at)
}

// Release injects a release edge.
func (f *FakeDriver) Release(pin int, at time.Time) error {
	return f.Inject(pin, false, at)
}

// Free forgets pin. Its recorded writes are discarded and Inject on it
// fails afterwards.
func (f *FakeDriver) Free(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, out := f.Writes[pin]
	_, in := f.handlers[pin]
	if !out && !in {
		return fmt.Errorf("pin %d not requested", pin)
	}
	delete(f.Writes, pin)
	delete(f.ActiveLow, pin)
	delete(f.handlers, pin)
	f.Freed = append(f.Freed, pin)
	return nil
}

// Last returns the most recent level written to pin.
func (f *FakeDriver) Last(pin int) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.Writes[pin]
	if len(w) == 0 {
		return false, false
	}
	return w[len(w)-1], true
}

// Count returns how many levels were written to pin after the initial one.
func (f *FakeDriver) Count(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes[pin]) == 0 {
		return 0
	}
	return len(f.Writes[pin]) - 1
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
