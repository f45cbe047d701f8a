//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealDriver drives lines on a Linux GPIO character device.
type RealDriver struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewRealDriver opens the named chip, e.g. "gpiochip0".
func NewRealDriver(chipName string) (*RealDriver, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealDriver{chip: chip, lines: make(map[int]*gpiocdev.Line)}, nil
}

type realOutput struct {
	line *gpiocdev.Line
}

func (o *realOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.line.Offset(), err)
	}
	return nil
}

// Output requests pin as an output. With activeLow the kernel inverts the
// line, so a relay board that energises on a low level still sees
// logical true as "on".
func (d *RealDriver) Output(pin int, activeLow bool, initial bool) (Output, error) {
	v := 0
	if initial {
		v = 1
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(v)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := d.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	d.track(pin, line)
	return &realOutput{line: line}, nil
}

// WatchInput requests pin as an active-low, pulled-up input with edge
// detection on both edges. Edges are reported in logical terms, so a
// rising edge is a press.
func (d *RealDriver) WatchInput(pin int, h EdgeHandler) error {
	handler := func(evt gpiocdev.LineEvent) {
		h(Edge{
			Pin:   evt.Offset,
			Level: evt.Type == gpiocdev.LineEventRisingEdge,
			Time:  time.Now(),
		})
	}
	line, err := d.chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.AsActiveLow,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler))
	if err != nil {
		return fmt.Errorf("request input pin %d: %w", pin, err)
	}
	d.track(pin, line)
	return nil
}

func (d *RealDriver) track(pin int, l *gpiocdev.Line) {
	d.mu.Lock()
	d.lines[pin] = l
	d.mu.Unlock()
}

// Free closes the line requested on pin. An input stops reporting edges.
func (d *RealDriver) Free(pin int) error {
	d.mu.Lock()
	l, ok := d.lines[pin]
	delete(d.lines, pin)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %d not requested", pin)
	}
	if err := l.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", pin, err)
	}
	return nil
}

// Close releases every requested line and the chip. Output lines keep
// their last driven level until the kernel reclaims them.
func (d *RealDriver) Close() error {
	d.mu.Lock()
	lines := d.lines
	d.lines = make(map[int]*gpiocdev.Line)
	d.mu.Unlock()

	var errs []error
	for _, l := range lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", l.Offset(), err))
		}
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
