package channel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/relay-controller/internal/gpio"
	"github.com/sweeney/relay-controller/internal/logging"
	"github.com/sweeney/relay-controller/internal/logic"
	"github.com/sweeney/relay-controller/internal/metrics"
	"github.com/sweeney/relay-controller/internal/reactor"
	"github.com/sweeney/relay-controller/internal/status"
)

const (
	cabinPath = "electrical.switches.light.cabin.state"
	portPath  = "electrical.switches.light.port.state"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func cabin() Descriptor {
	return Descriptor{ID: 1, Label: "Relay 1", InputPin: 16, RelayPin: 32, LEDPin: 12, Path: cabinPath, SortOrder: 100, RelayActiveLow: true}
}

func port() Descriptor {
	return Descriptor{ID: 2, Label: "Relay 2", InputPin: 17, RelayPin: 33, LEDPin: 13, Path: portPath, SortOrder: 101, RelayActiveLow: true}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []logic.PublishEvent
	err    error
}

func (p *recordingPublisher) Publish(ev logic.PublishEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) byPath(path string, reason logic.Reason) []logic.PublishEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []logic.PublishEvent
	for _, ev := range p.events {
		if ev.Path == path && (reason == "" || ev.Reason == reason) {
			out = append(out, ev)
		}
	}
	return out
}

type fakeCommands struct {
	handlers map[string]func(logic.RemoteCommand)
	err      error
}

func (f *fakeCommands) Subscribe(path string, h func(logic.RemoteCommand)) error {
	if f.err != nil {
		return f.err
	}
	f.handlers[path] = h
	return nil
}

func (f *fakeCommands) send(path string, v bool) {
	f.handlers[path](logic.RemoteCommand{Path: path, Value: v, Source: "test"})
}

type harness struct {
	disp    *reactor.Dispatcher
	clock   *reactor.ManualClock
	gpio    *gpio.FakeDriver
	pub     *recordingPublisher
	cmds    *fakeCommands
	metrics *metrics.Metrics
	tracker *status.Tracker
	asm     *Assembler
}

func newHarness(t *testing.T, debounce time.Duration) *harness {
	t.Helper()
	clock := reactor.NewManualClock(start)
	h := &harness{
		disp:    reactor.New(reactor.WithClock(clock.Now), reactor.WithLogger(logging.Discard())),
		clock:   clock,
		gpio:    gpio.NewFakeDriver(),
		pub:     &recordingPublisher{},
		cmds:    &fakeCommands{handlers: map[string]func(logic.RemoteCommand){}},
		metrics: metrics.New(prometheus.NewRegistry()),
		tracker: status.NewTracker(start, status.Config{}),
	}
	h.asm = NewAssembler(h.disp, h.gpio, Options{
		Debounce:       debounce,
		RepeatInterval: 10 * time.Second,
		Publisher:      h.pub,
		Commands:       h.cmds,
		Metrics:        h.metrics,
		Tracker:        h.tracker,
		Logger:         logging.Discard(),
	})
	return h
}

// advance moves the clock forward and drains the loop.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.disp.Tick()
}

func (h *harness) press(t *testing.T, pin int) {
	t.Helper()
	require.NoError(t, h.gpio.Press(pin, h.clock.Now()))
	h.disp.Tick()
}

func (h *harness) release(t *testing.T, pin int) {
	t.Helper()
	require.NoError(t, h.gpio.Release(pin, h.clock.Now()))
	h.disp.Tick()
}

func TestAssembleRequestsLines(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	assert.False(t, ch.State())
	assert.True(t, h.gpio.ActiveLow[32], "relay requested active-low")
	assert.False(t, h.gpio.ActiveLow[12], "led is active-high")

	relay, ok := h.gpio.Last(32)
	require.True(t, ok)
	assert.False(t, relay, "relay starts off")
	led, _ := h.gpio.Last(12)
	assert.False(t, led)

	assert.Contains(t, h.cmds.handlers, cabinPath)
	assert.Equal(t, 1, h.disp.Pending(), "repeater timer armed")
	assert.Equal(t, []Descriptor{cabin()}, h.asm.Channels())

	snap, ok := h.tracker.Snapshot().Channel(1)
	require.True(t, ok)
	assert.Equal(t, cabinPath, snap.Path)
}

func TestAssembleRejectsCollisions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Descriptor)
		target error
	}{
		{"duplicate id", func(d *Descriptor) { d.ID = 1 }, ErrConflict},
		{"duplicate path", func(d *Descriptor) { d.Path = cabinPath }, ErrConflict},
		{"input on other relay pin", func(d *Descriptor) { d.InputPin = 32 }, ErrConflict},
		{"led on other input pin", func(d *Descriptor) { d.LEDPin = 16 }, ErrConflict},
		{"same pin twice in one channel", func(d *Descriptor) { d.LEDPin = d.RelayPin }, ErrConflict},
		{"id zero", func(d *Descriptor) { d.ID = 0 }, ErrInvalid},
		{"id too large", func(d *Descriptor) { d.ID = MaxChannels + 1 }, ErrInvalid},
		{"empty path", func(d *Descriptor) { d.Path = "" }, ErrInvalid},
		{"negative pin", func(d *Descriptor) { d.InputPin = -1 }, ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			_, err := h.asm.Assemble(cabin())
			require.NoError(t, err)

			d := port()
			tt.mutate(&d)
			_, err = h.asm.Assemble(d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.Len(t, h.asm.Channels(), 1)

			// Nothing requested for the rejected channel
			_, requested := h.gpio.Writes[33]
			assert.False(t, requested)
		})
	}
}

func TestAssembleAllValidatesBeforeWiring(t *testing.T) {
	h := newHarness(t, 0)
	bad := port()
	bad.Path = cabinPath

	_, err := h.asm.AssembleAll([]Descriptor{cabin(), bad})
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, h.asm.Channels())
	assert.Empty(t, h.gpio.Writes)

	_, err = h.asm.AssembleAll(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAssembleAll(t *testing.T) {
	h := newHarness(t, 0)
	chs, err := h.asm.AssembleAll([]Descriptor{cabin(), port()})
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, 2, h.disp.Pending())
}

func TestAssembleSubscribeFailureLeavesNothingWired(t *testing.T) {
	h := newHarness(t, 0)
	h.cmds.err = errors.New("broker down")
	_, err := h.asm.Assemble(cabin())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Empty(t, h.asm.Channels())
	assert.Equal(t, []int{32, 12, 16}, h.gpio.Freed)

	// The button no longer reaches the relay
	assert.Error(t, h.gpio.Press(16, h.clock.Now()))
	h.disp.Tick()
	assert.Zero(t, h.gpio.Count(32))
	assert.Zero(t, h.disp.Pending())

	// A corrected retry gets the same lines
	h.cmds.err = nil
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)
	h.press(t, 16)
	assert.True(t, ch.State())
}

func TestAssembleOutputFailureFreesEarlierLines(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.gpio.Output(12, false, false)
	require.NoError(t, err)

	_, err = h.asm.Assemble(cabin())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "led pin 12")
	assert.Equal(t, []int{32}, h.gpio.Freed)
	_, held := h.gpio.Writes[32]
	assert.False(t, held)
	assert.NotContains(t, h.cmds.handlers, cabinPath)
}

func TestPressToggles(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.press(t, 16)
	assert.False(t, ch.State(), "not settled yet")

	h.advance(50 * time.Millisecond)
	assert.True(t, ch.State())
	relay, _ := h.gpio.Last(32)
	led, _ := h.gpio.Last(12)
	assert.True(t, relay)
	assert.True(t, led)

	changes := h.pub.byPath(cabinPath, logic.ReasonChange)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Value)
	assert.Equal(t, start.Add(50*time.Millisecond), changes[0].Timestamp)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Presses.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Toggles.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.State.WithLabelValues("1")))
}

func TestBounceIsSuppressed(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.press(t, 16)
	h.advance(10 * time.Millisecond)
	h.release(t, 16)
	h.advance(10 * time.Millisecond)
	h.press(t, 16)
	h.advance(10 * time.Millisecond)
	h.release(t, 16)

	h.advance(time.Second)
	assert.False(t, ch.State())
	assert.Zero(t, h.gpio.Count(32))
	assert.Empty(t, h.pub.byPath(cabinPath, logic.ReasonChange))
}

func TestZeroDebouncePassesThrough(t *testing.T) {
	h := newHarness(t, 0)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.press(t, 16)
	assert.True(t, ch.State())
	h.release(t, 16)
	h.press(t, 16)
	assert.False(t, ch.State())
	assert.Equal(t, 2, h.gpio.Count(12))
}

// Press down, up, down: two toggles, two immediate publishes, two LED updates.
func TestPressReleasePressScenario(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.press(t, 16)
	h.advance(100 * time.Millisecond)
	h.release(t, 16)
	h.advance(100 * time.Millisecond)
	h.press(t, 16)
	h.advance(100 * time.Millisecond)

	assert.False(t, ch.State(), "two presses toggle back")
	changes := h.pub.byPath(cabinPath, logic.ReasonChange)
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Value)
	assert.False(t, changes[1].Value)
	assert.Equal(t, []bool{false, true, false}, h.gpio.Writes[12])
}

func TestToggleParityOverPressSequences(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	presses := 0
	for i := 0; i < 7; i++ {
		h.press(t, 16)
		h.advance(60 * time.Millisecond)
		presses++
		if i%3 == 0 {
			// Extra release edges never count
			h.release(t, 16)
			h.advance(60 * time.Millisecond)
			h.release(t, 16)
			h.advance(60 * time.Millisecond)
		} else {
			h.release(t, 16)
			h.advance(60 * time.Millisecond)
		}
	}
	assert.Equal(t, presses%2 == 1, ch.State())
}

func TestRepeaterRepublishesUnchangedState(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.advance(10 * time.Second)
	repeats := h.pub.byPath(cabinPath, logic.ReasonRepeat)
	require.Len(t, repeats, 1)
	assert.False(t, repeats[0].Value)

	h.press(t, 16)
	h.advance(10 * time.Second)
	repeats = h.pub.byPath(cabinPath, logic.ReasonRepeat)
	require.Len(t, repeats, 2)
	assert.True(t, repeats[1].Value)

	h.advance(10 * time.Second)
	assert.Len(t, h.pub.byPath(cabinPath, logic.ReasonRepeat), 3)
}

func TestRemoteCommandScenario(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.cmds.send(cabinPath, true)
	assert.False(t, ch.State(), "applied on the loop, not inline")
	h.disp.Tick()

	assert.True(t, ch.State())
	led, _ := h.gpio.Last(12)
	relay, _ := h.gpio.Last(32)
	assert.True(t, led)
	assert.True(t, relay)
	assert.Equal(t, 1, h.gpio.Count(12), "LED set once through the fan-out")
	assert.Zero(t, h.gpio.Count(16))

	// Remote writes are re-published too
	require.Len(t, h.pub.byPath(cabinPath, logic.ReasonChange), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RemoteCommands.WithLabelValues("1", "test")))
}

func TestRemoteReassertionIsObservable(t *testing.T) {
	h := newHarness(t, 0)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.cmds.send(cabinPath, true)
	h.cmds.send(cabinPath, true)
	h.disp.Tick()

	assert.True(t, ch.State())
	assert.Equal(t, []bool{false, true, true}, h.gpio.Writes[12])
	assert.Len(t, h.pub.byPath(cabinPath, logic.ReasonChange), 2)
}

func TestLastWriteWins(t *testing.T) {
	h := newHarness(t, 0)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	// Local press then remote off, queued in that order
	require.NoError(t, h.gpio.Press(16, h.clock.Now()))
	h.cmds.send(cabinPath, false)
	h.disp.Tick()
	assert.False(t, ch.State())

	// Remote on then local press
	h.cmds.send(cabinPath, true)
	require.NoError(t, h.gpio.Release(16, h.clock.Now()))
	require.NoError(t, h.gpio.Press(16, h.clock.Now()))
	h.disp.Tick()
	assert.False(t, ch.State())
	assert.Equal(t, uint64(4), ch.Writes())
}

func TestChannelsAreIndependent(t *testing.T) {
	h := newHarness(t, 0)
	c1, err := h.asm.Assemble(cabin())
	require.NoError(t, err)
	c2, err := h.asm.Assemble(port())
	require.NoError(t, err)

	h.press(t, 17)

	assert.True(t, c2.State())
	assert.False(t, c1.State())
	assert.Zero(t, h.gpio.Count(12))
	assert.Zero(t, h.gpio.Count(32))
	assert.Empty(t, h.pub.byPath(cabinPath, ""))
	assert.Len(t, h.pub.byPath(portPath, ""), 1)
}

func TestDeliverAndSet(t *testing.T) {
	h := newHarness(t, 0)
	c1, err := h.asm.Assemble(cabin())
	require.NoError(t, err)
	c2, err := h.asm.Assemble(port())
	require.NoError(t, err)

	assert.False(t, h.asm.Deliver(logic.RemoteCommand{Path: "no.such.path", Value: true}))
	assert.True(t, h.asm.Deliver(logic.RemoteCommand{Path: cabinPath, Value: true, Source: "http"}))
	assert.True(t, h.asm.Set(2, true, "http"))
	assert.False(t, h.asm.Set(9, true, "http"))
	h.disp.Tick()

	assert.True(t, c1.State())
	assert.True(t, c2.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RemoteCommands.WithLabelValues("2", "http")))

	d, ok := h.asm.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, portPath, d.Path)
}

func TestPublishErrorsAreCountedNotPropagated(t *testing.T) {
	h := newHarness(t, 0)
	h.pub.err = errors.New("outbox full")
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.press(t, 16)
	assert.True(t, ch.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PublishErrors.WithLabelValues("1")))

	snap, _ := h.tracker.Snapshot().Channel(1)
	assert.Equal(t, 1, snap.PublishErrors)
	assert.True(t, snap.On)
}

func TestOutputFailureDoesNotStopFanOut(t *testing.T) {
	h := newHarness(t, 0)
	ch, err := h.asm.Assemble(cabin())
	require.NoError(t, err)

	h.gpio.OutputError = errors.New("line busy")
	h.press(t, 16)

	assert.True(t, ch.State())
	assert.Len(t, h.pub.byPath(cabinPath, logic.ReasonChange), 1)
}

func TestValidPath(t *testing.T) {
	assert.True(t, ValidPath(cabinPath))
	assert.True(t, ValidPath("single"))
	assert.False(t, ValidPath(""))
	assert.False(t, ValidPath("a..b"))
	assert.False(t, ValidPath("a.b."))
	assert.False(t, ValidPath("a/+/b"))
}

func TestDiscardPublisher(t *testing.T) {
	assert.NoError(t, Discard{}.Publish(logic.PublishEvent{}))
}
