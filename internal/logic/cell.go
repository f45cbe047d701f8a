package logic

// Sink receives every value written to a Cell.
type Sink func(value bool)

// Router fans one value out to its sinks, synchronously and in
// registration order. Values are never coalesced.
type Router struct {
	sinks []Sink
}

// Connect appends a sink.
func (r *Router) Connect(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Emit delivers v to every sink.
func (r *Router) Emit(v bool) {
	for _, s := range r.sinks {
		s(v)
	}
}

// Len returns the number of connected sinks.
func (r *Router) Len() int {
	return len(r.sinks)
}

// Cell is the single authoritative boolean of one relay channel.
// Every Write drives the relay output and then propagates through the
// router, even when the value did not change.
//
// Cell is not safe for concurrent use; callers serialize access through
// the dispatcher.
type Cell struct {
	value  bool
	drive  func(bool)
	router Router
	writes uint64
}

// NewCell creates a cell holding initial. drive, if non-nil, is called
// synchronously on every write before any sink.
func NewCell(initial bool, drive func(bool)) *Cell {
	return &Cell{value: initial, drive: drive}
}

// Read returns the current value.
func (c *Cell) Read() bool {
	return c.value
}

// Write stores v, drives the output and notifies every sink.
func (c *Cell) Write(v bool) {
	c.value = v
	c.writes++
	if c.drive != nil {
		c.drive(v)
	}
	c.router.Emit(v)
}

// Connect registers a sink for subsequent writes.
func (c *Cell) Connect(s Sink) {
	c.router.Connect(s)
}

// Writes returns the number of writes since creation.
func (c *Cell) Writes() uint64 {
	return c.writes
}
