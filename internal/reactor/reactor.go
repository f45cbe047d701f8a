// Package reactor provides the single-goroutine event loop that serializes
// every input edge, timer and remote command of the device.
package reactor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueSize is the number of posted events buffered before Post blocks.
const DefaultQueueSize = 256

// Dispatcher runs callbacks one at a time.
//
// Post may be called from any goroutine. After, Every and Tick must only be
// called from the loop goroutine: during start-up before Run, or from
// inside a callback.
type Dispatcher struct {
	queue   chan func()
	stopped chan struct{}
	now     func() time.Time
	logger  *slog.Logger

	timers []*timer
	seq    uint64

	mu      sync.Mutex
	panics  uint64
	onPanic func()
	running bool
}

type timer struct {
	id       uint64
	due      time.Time
	interval time.Duration // zero for one-shot
	fn       func()
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithQueueSize sets the posted-event buffer size.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan func(), n)
		}
	}
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithPanicHook is called after a callback panic has been recovered.
func WithPanicHook(fn func()) Option {
	return func(d *Dispatcher) { d.onPanic = fn }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   make(chan func(), DefaultQueueSize),
		stopped: make(chan struct{}),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Now returns the dispatcher's current time.
func (d *Dispatcher) Now() time.Time {
	return d.now()
}

// Post queues fn for execution on the loop goroutine.
// It blocks only when the queue is full. Once Run has returned, fn is
// dropped instead.
func (d *Dispatcher) Post(fn func()) {
	select {
	case <-d.stopped:
		return
	default:
	}
	select {
	case d.queue <- fn:
	case <-d.stopped:
	}
}

// After schedules fn once, delay from now.
func (d *Dispatcher) After(delay time.Duration, fn func()) {
	d.addTimer(delay, 0, fn)
}

// Every schedules fn on a fixed interval, first firing one interval from now.
// There is no way to cancel it.
func (d *Dispatcher) Every(interval time.Duration, fn func()) {
	if interval <= 0 {
		panic("reactor: non-positive interval")
	}
	d.addTimer(interval, interval, fn)
}

func (d *Dispatcher) addTimer(delay, interval time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	d.seq++
	d.timers = append(d.timers, &timer{
		id:       d.seq,
		due:      d.now().Add(delay),
		interval: interval,
		fn:       fn,
	})
}

// Pending returns the number of armed timers.
func (d *Dispatcher) Pending() int {
	return len(d.timers)
}

// Panics returns the number of recovered callback panics.
func (d *Dispatcher) Panics() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.panics
}

// Tick drains the events queued at the time of the call, then fires every
// timer that is due. It never blocks and returns the number of callbacks run.
func (d *Dispatcher) Tick() int {
	n := 0
	for pending := len(d.queue); pending > 0; pending-- {
		select {
		case fn := <-d.queue:
			d.call(fn)
			n++
		default:
			pending = 0
		}
	}
	return n + d.fireTimers()
}

// fireTimers runs due timers in deadline order. Timers added by a callback
// are not run until the next Tick.
func (d *Dispatcher) fireTimers() int {
	now := d.now()
	limit := d.seq
	n := 0
	for {
		t := d.earliestDue(now, limit)
		if t == nil {
			return n
		}
		if t.interval > 0 {
			t.due = t.due.Add(t.interval)
			if !t.due.After(now) {
				t.due = now.Add(t.interval)
			}
		} else {
			d.removeTimer(t.id)
		}
		d.call(t.fn)
		n++
	}
}

func (d *Dispatcher) earliestDue(now time.Time, limit uint64) *timer {
	var best *timer
	for _, t := range d.timers {
		if t.id > limit || t.due.After(now) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.id < best.id) {
			best = t
		}
	}
	return best
}

func (d *Dispatcher) removeTimer(id uint64) {
	for i, t := range d.timers {
		if t.id == id {
			d.timers = append(d.timers[:i], d.timers[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) nextDue() (time.Time, bool) {
	var next time.Time
	found := false
	for _, t := range d.timers {
		if !found || t.due.Before(next) {
			next = t.due
			found = true
		}
	}
	return next, found
}

func (d *Dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.panics++
			d.mu.Unlock()
			d.logger.Error("dispatcher callback panic", "panic", r)
			if d.onPanic != nil {
				d.onPanic()
			}
		}
	}()
	fn()
}

// Run drives the loop until ctx is cancelled, sleeping until the next
// queued event or timer deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		panic("reactor: Run called twice")
	}
	d.running = true
	d.mu.Unlock()
	defer close(d.stopped)

	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for {
		d.Tick()

		var timerC <-chan time.Time
		if next, ok := d.nextDue(); ok {
			if !wait.Stop() {
				select {
				case <-wait.C:
				default:
				}
			}
			wait.Reset(next.Sub(d.now()))
			timerC = wait.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-d.queue:
			d.call(fn)
		case <-timerC:
		}
	}
}
