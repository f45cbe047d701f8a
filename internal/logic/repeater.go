package logic

// Repeater forwards each written value to the publish sink immediately and
// re-emits the source's current value on every Fire, whether or not it
// changed. Fire is driven by an external fixed-interval timer.
type Repeater struct {
	source func() bool
	sink   func(value bool, reason Reason)
	fired  uint64
}

// NewRepeater creates a repeater reading from source and emitting to sink.
func NewRepeater(source func() bool, sink func(value bool, reason Reason)) *Repeater {
	return &Repeater{source: source, sink: sink}
}

// Forward is the immediate path; connect it as a Cell sink.
func (r *Repeater) Forward(v bool) {
	r.sink(v, ReasonChange)
}

// Fire emits the current value.
func (r *Repeater) Fire() {
	r.fired++
	r.sink(r.source(), ReasonRepeat)
}

// Fired returns how many timer emissions have happened.
func (r *Repeater) Fired() uint64 {
	return r.fired
}
