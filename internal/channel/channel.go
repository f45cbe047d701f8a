// Package channel assembles the per-relay dataflow graph: input edge,
// debounce, toggle, state cell, fan-out to LED and repeater, and the
// remote command listener. All graph work runs on the dispatcher goroutine.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/sweeney/relay-controller/internal/gpio"
	"github.com/sweeney/relay-controller/internal/logic"
	"github.com/sweeney/relay-controller/internal/metrics"
	"github.com/sweeney/relay-controller/internal/reactor"
	"github.com/sweeney/relay-controller/internal/status"
)

// MaxChannels is the largest number of channels one assembler accepts.
const MaxChannels = 16

var (
	// ErrConflict reports an id, pin or path already used by another channel.
	ErrConflict = errors.New("channel conflict")
	// ErrInvalid reports a malformed descriptor.
	ErrInvalid = errors.New("invalid channel descriptor")
)

var pathPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// ValidPath reports whether p is a dotted telemetry path.
func ValidPath(p string) bool {
	return pathPattern.MatchString(p)
}

// Descriptor is the static identity and wiring of one channel.
type Descriptor struct {
	ID          int
	Label       string
	Title       string
	Description string
	ConfigKey   string
	InputPin    int
	RelayPin    int
	LEDPin      int
	Path        string
	SortOrder   int

	// RelayActiveLow drives the relay line low for "on".
	RelayActiveLow bool
	// Initial is the relay state at bring-up.
	Initial bool
}

// Publisher is the remote telemetry sink. Publish must not block; the
// returned error is logged and counted, never retried.
type Publisher interface {
	Publish(ev logic.PublishEvent) error
}

// CommandSource delivers remote commands for a path. The handler may be
// called from any goroutine.
type CommandSource interface {
	Subscribe(path string, h func(logic.RemoteCommand)) error
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(logic.PublishEvent) error { return nil }

// Options configures an Assembler. Nil collaborators are skipped.
type Options struct {
	Debounce       time.Duration
	RepeatInterval time.Duration
	Publisher      Publisher
	Commands       CommandSource
	Metrics        *metrics.Metrics
	Tracker        *status.Tracker
	Logger         *slog.Logger
}

// Assembler builds channels on one dispatcher and guards against
// collisions between them.
type Assembler struct {
	disp   *reactor.Dispatcher
	driver gpio.Driver
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	channels []*Channel
	byID     map[int]*Channel
	byPath   map[string]*Channel
	pins     map[int]string
}

// NewAssembler creates an Assembler. A non-positive repeat interval is
// replaced by ten seconds.
func NewAssembler(disp *reactor.Dispatcher, driver gpio.Driver, opts Options) *Assembler {
	if opts.Publisher == nil {
		opts.Publisher = Discard{}
	}
	if opts.RepeatInterval <= 0 {
		opts.RepeatInterval = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		disp:   disp,
		driver: driver,
		opts:   opts,
		logger: logger,
		byID:   make(map[int]*Channel),
		byPath: make(map[string]*Channel),
		pins:   make(map[int]string),
	}
}

// Channel is one assembled relay unit. It stays alive for the lifetime of
// the process.
type Channel struct {
	desc   Descriptor
	a      *Assembler
	logger *slog.Logger

	cell     *logic.Cell
	debounce *logic.Debounce
	toggle   *logic.Toggle
	listener *logic.Listener
	repeater *logic.Repeater

	relay gpio.Output
	led   gpio.Output

	settleAt time.Time

	// live is set once the channel is registered. Only the loop reads it.
	live bool
}

// Descriptor returns the channel's descriptor.
func (c *Channel) Descriptor() Descriptor {
	return c.desc
}

// State returns the relay state. Call it only from the dispatcher goroutine.
func (c *Channel) State() bool {
	return c.cell.Read()
}

// Writes returns how many times the state cell was written.
// Call it only from the dispatcher goroutine.
func (c *Channel) Writes() uint64 {
	return c.cell.Writes()
}

// Validate checks a descriptor on its own.
func (d Descriptor) Validate() error {
	if d.ID < 1 || d.ID > MaxChannels {
		return fmt.Errorf("%w: id %d out of range 1..%d", ErrInvalid, d.ID, MaxChannels)
	}
	if !ValidPath(d.Path) {
		return fmt.Errorf("%w: channel %d path %q", ErrInvalid, d.ID, d.Path)
	}
	pins := map[int]string{}
	for _, p := range d.pinRoles() {
		if p.pin < 0 {
			return fmt.Errorf("%w: channel %d %s pin %d", ErrInvalid, d.ID, p.role, p.pin)
		}
		if other, ok := pins[p.pin]; ok {
			return fmt.Errorf("%w: channel %d pin %d used as %s and %s", ErrConflict, d.ID, p.pin, other, p.role)
		}
		pins[p.pin] = p.role
	}
	return nil
}

type pinRole struct {
	role string
	pin  int
}

func (d Descriptor) pinRoles() []pinRole {
	return []pinRole{{"input", d.InputPin}, {"relay", d.RelayPin}, {"led", d.LEDPin}}
}

// ValidateDescriptors checks a full channel table for count, range and
// collisions without touching hardware.
func ValidateDescriptors(descs []Descriptor) error {
	if len(descs) == 0 || len(descs) > MaxChannels {
		return fmt.Errorf("%w: need 1..%d channels, got %d", ErrInvalid, MaxChannels, len(descs))
	}
	ids := map[int]bool{}
	paths := map[string]int{}
	pins := map[int]string{}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return err
		}
		if ids[d.ID] {
			return fmt.Errorf("%w: duplicate id %d", ErrConflict, d.ID)
		}
		ids[d.ID] = true
		if other, ok := paths[d.Path]; ok {
			return fmt.Errorf("%w: path %q used by channels %d and %d", ErrConflict, d.Path, other, d.ID)
		}
		paths[d.Path] = d.ID
		for _, p := range d.pinRoles() {
			owner := fmt.Sprintf("channel %d %s", d.ID, p.role)
			if other, ok := pins[p.pin]; ok {
				return fmt.Errorf("%w: pin %d used by %s and %s", ErrConflict, p.pin, other, owner)
			}
			pins[p.pin] = owner
		}
	}
	return nil
}

// AssembleAll validates the whole table, then assembles each channel in order.
func (a *Assembler) AssembleAll(descs []Descriptor) ([]*Channel, error) {
	if err := ValidateDescriptors(descs); err != nil {
		return nil, err
	}
	out := make([]*Channel, 0, len(descs))
	for _, d := range descs {
		ch, err := a.Assemble(d)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (a *Assembler) checkFree(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if len(a.channels) >= MaxChannels {
		return fmt.Errorf("%w: already %d channels", ErrInvalid, MaxChannels)
	}
	if _, ok := a.byID[d.ID]; ok {
		return fmt.Errorf("%w: duplicate id %d", ErrConflict, d.ID)
	}
	if other, ok := a.byPath[d.Path]; ok {
		return fmt.Errorf("%w: path %q already used by channel %d", ErrConflict, d.Path, other.desc.ID)
	}
	for _, p := range d.pinRoles() {
		if owner, ok := a.pins[p.pin]; ok {
			return fmt.Errorf("%w: channel %d %s pin %d already used by %s", ErrConflict, d.ID, p.role, p.pin, owner)
		}
	}
	return nil
}

// Assemble wires one channel. Collisions with previously assembled
// channels are reported before any line is requested. If a later step
// fails, the lines already requested are freed and the channel never
// reacts to edges or commands.
// It must be called from the dispatcher goroutine or before Run.
func (a *Assembler) Assemble(d Descriptor) (*Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkFree(d); err != nil {
		return nil, err
	}

	ch := &Channel{
		desc:   d,
		a:      a,
		logger: a.logger.With("channel", d.ID, "path", d.Path),
	}
	if err := a.wire(ch); err != nil {
		return nil, err
	}

	a.disp.Every(a.opts.RepeatInterval, ch.repeater.Fire)

	if a.opts.Tracker != nil {
		a.opts.Tracker.AddChannel(status.ChannelInfo{
			ID:        d.ID,
			Label:     d.Label,
			Path:      d.Path,
			SortOrder: d.SortOrder,
			InputPin:  d.InputPin,
			RelayPin:  d.RelayPin,
			LEDPin:    d.LEDPin,
		}, d.Initial)
	}
	if a.opts.Metrics != nil {
		a.opts.Metrics.SetState(d.ID, d.Initial)
	}

	ch.live = true
	a.channels = append(a.channels, ch)
	a.byID[d.ID] = ch
	a.byPath[d.Path] = ch
	for _, p := range d.pinRoles() {
		a.pins[p.pin] = fmt.Sprintf("channel %d %s", d.ID, p.role)
	}

	ch.logger.Info("channel assembled",
		"label", d.Label,
		"input_pin", d.InputPin,
		"relay_pin", d.RelayPin,
		"led_pin", d.LEDPin,
		"active_low", d.RelayActiveLow)
	return ch, nil
}

// wire requests the channel's lines and hooks it to the driver and the
// command source. On error every line it requested is freed.
func (a *Assembler) wire(ch *Channel) (err error) {
	d := ch.desc
	var held []int
	defer func() {
		if err == nil {
			return
		}
		for _, pin := range held {
			if ferr := a.driver.Free(pin); ferr != nil {
				ch.logger.Warn("free pin failed", "pin", pin, "error", ferr)
			}
		}
	}()

	ch.relay, err = a.driver.Output(d.RelayPin, d.RelayActiveLow, d.Initial)
	if err != nil {
		return fmt.Errorf("channel %d relay pin %d: %w", d.ID, d.RelayPin, err)
	}
	held = append(held, d.RelayPin)
	ch.led, err = a.driver.Output(d.LEDPin, false, d.Initial)
	if err != nil {
		return fmt.Errorf("channel %d led pin %d: %w", d.ID, d.LEDPin, err)
	}
	held = append(held, d.LEDPin)

	ch.cell = logic.NewCell(d.Initial, ch.driveRelay)
	ch.debounce = logic.NewDebounce(a.opts.Debounce, false)
	ch.toggle = logic.NewToggle(ch.cell)
	ch.listener = logic.NewListener(d.Path, ch.cell)
	ch.repeater = logic.NewRepeater(ch.cell.Read, ch.publish)

	// Fan-out order: LED mirror, immediate publish, bookkeeping.
	ch.cell.Connect(ch.driveLED)
	ch.cell.Connect(ch.repeater.Forward)
	ch.cell.Connect(ch.record)

	err = a.driver.WatchInput(d.InputPin, func(e gpio.Edge) {
		a.disp.Post(func() { ch.onEdge(e.Level) })
	})
	if err != nil {
		return fmt.Errorf("channel %d input pin %d: %w", d.ID, d.InputPin, err)
	}
	held = append(held, d.InputPin)

	if a.opts.Commands != nil {
		err = a.opts.Commands.Subscribe(d.Path, func(cmd logic.RemoteCommand) {
			a.disp.Post(func() { ch.apply(cmd) })
		})
		if err != nil {
			return fmt.Errorf("channel %d subscribe %s: %w", d.ID, d.Path, err)
		}
	}
	return nil
}

// Channels returns the descriptors of every assembled channel in
// assembly order.
func (a *Assembler) Channels() []Descriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Descriptor, len(a.channels))
	for i, ch := range a.channels {
		out[i] = ch.desc
	}
	return out
}

// Lookup returns the descriptor of channel id.
func (a *Assembler) Lookup(id int) (Descriptor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ch, ok := a.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return ch.desc, true
}

// Deliver queues a remote command for the channel owning cmd.Path and
// reports whether such a channel exists. Safe from any goroutine.
func (a *Assembler) Deliver(cmd logic.RemoteCommand) bool {
	a.mu.RLock()
	ch, ok := a.byPath[cmd.Path]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	a.disp.Post(func() { ch.apply(cmd) })
	return true
}

// Set queues a remote write for channel id. Safe from any goroutine.
func (a *Assembler) Set(id int, on bool, source string) bool {
	d, ok := a.Lookup(id)
	if !ok {
		return false
	}
	return a.Deliver(logic.RemoteCommand{Path: d.Path, Value: on, Source: source})
}

func (c *Channel) onEdge(level bool) {
	if !c.live {
		return
	}
	now := c.a.disp.Now()
	c.debounce.Input(level, now)
	if ev, ok := c.debounce.Poll(now); ok {
		c.handle(ev)
		return
	}
	deadline, ok := c.debounce.Deadline()
	if !ok || deadline.Equal(c.settleAt) {
		return
	}
	c.settleAt = deadline
	c.a.disp.After(deadline.Sub(now), c.settle)
}

func (c *Channel) settle() {
	if ev, ok := c.debounce.Poll(c.a.disp.Now()); ok {
		c.handle(ev)
	}
}

func (c *Channel) handle(ev logic.PressEvent) {
	if !ev.Pressed {
		return
	}
	if m := c.a.opts.Metrics; m != nil {
		m.Presses.WithLabelValues(metrics.Label(c.desc.ID)).Inc()
	}
	if t := c.a.opts.Tracker; t != nil {
		t.RecordPress(c.desc.ID)
	}
	if !c.toggle.Consume(ev) {
		return
	}
	if m := c.a.opts.Metrics; m != nil {
		m.Toggles.WithLabelValues(metrics.Label(c.desc.ID)).Inc()
	}
	if t := c.a.opts.Tracker; t != nil {
		t.RecordToggle(c.desc.ID)
	}
	c.logger.Debug("relay toggled", "value", c.cell.Read(), "origin", logic.OriginLocal)
}

func (c *Channel) apply(cmd logic.RemoteCommand) {
	if !c.live {
		return
	}
	if !c.listener.Apply(cmd) {
		return
	}
	if m := c.a.opts.Metrics; m != nil {
		m.RemoteCommands.WithLabelValues(metrics.Label(c.desc.ID), cmd.Source).Inc()
	}
	if t := c.a.opts.Tracker; t != nil {
		t.RecordRemoteCommand(c.desc.ID)
	}
	c.logger.Debug("relay set remotely", "value", cmd.Value, "origin", logic.OriginRemote, "source", cmd.Source)
}

func (c *Channel) driveRelay(on bool) {
	if err := c.relay.Set(on); err != nil {
		c.logger.Warn("relay write failed", "value", on, "error", err)
	}
}

func (c *Channel) driveLED(on bool) {
	if err := c.led.Set(on); err != nil {
		c.logger.Warn("led write failed", "value", on, "error", err)
	}
}

func (c *Channel) record(on bool) {
	if t := c.a.opts.Tracker; t != nil {
		t.SetState(c.desc.ID, on, c.a.disp.Now())
	}
	if m := c.a.opts.Metrics; m != nil {
		m.SetState(c.desc.ID, on)
	}
}

func (c *Channel) publish(v bool, reason logic.Reason) {
	ev := logic.PublishEvent{
		Path:      c.desc.Path,
		Value:     v,
		Reason:    reason,
		Timestamp: c.a.disp.Now(),
	}
	err := c.a.opts.Publisher.Publish(ev)

	label := metrics.Label(c.desc.ID)
	if m := c.a.opts.Metrics; m != nil {
		m.Publishes.WithLabelValues(label, string(reason)).Inc()
		if err != nil {
			m.PublishErrors.WithLabelValues(label).Inc()
		}
	}
	if t := c.a.opts.Tracker; t != nil {
		t.RecordPublish(c.desc.ID, err)
	}
	if err != nil {
		c.logger.Warn("publish failed", "value", v, "reason", reason, "error", err)
	}
}
