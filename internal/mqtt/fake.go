package mqtt

import (
	"sync"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/logic"
)

// FakeBroker records published messages and lets tests deliver commands.
type FakeBroker struct {
	mu sync.Mutex

	// Topics used to render Messages.
	Topics Topics

	// Events contains all state events that were published.
	Events []logic.PublishEvent

	// Messages maps topic to every payload published on it.
	Messages map[string][][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Announced holds the last metadata set.
	Announced []channel.Descriptor

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handlers map[string]func(logic.RemoteCommand) // keyed by path
}

// NewFakeBroker creates a connected FakeBroker for testing.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		Messages:  make(map[string][][]byte),
		Connected: true,
		handlers:  make(map[string]func(logic.RemoteCommand)),
	}
}

// Publish records the state event.
func (f *FakeBroker) Publish(ev logic.PublishEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(ev)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, ev)
	topic := f.Topics.State(ev.Path)
	f.Messages[topic] = append(f.Messages[topic], payload)
	return nil
}

// Subscribe registers h for commands on path.
func (f *FakeBroker) Subscribe(path string, h func(logic.RemoteCommand)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.handlers[path] = h
	return nil
}

// Deliver parses payload as if it arrived on path's command topic.
// It reports whether a handler received a command.
func (f *FakeBroker) Deliver(path string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[path]
	f.mu.Unlock()
	if !ok {
		return false
	}
	cmd, err := ParseCommand(path, payload)
	if err != nil {
		return false
	}
	h(cmd)
	return true
}

// Subscribed reports whether a handler is registered for path.
func (f *FakeBroker) Subscribed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[path]
	return ok
}

// Announce records the metadata set.
func (f *FakeBroker) Announce(descs []channel.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Announced = append([]channel.Descriptor(nil), descs...)
	for _, d := range descs {
		payload, err := FormatMeta(d)
		if err != nil {
			return err
		}
		topic := f.Topics.Meta(d.Path)
		f.Messages[topic] = append(f.Messages[topic], payload)
	}
	return nil
}

// PublishSystem records the system event.
func (f *FakeBroker) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Published returns a copy of the recorded state events.
func (f *FakeBroker) Published() []logic.PublishEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.PublishEvent(nil), f.Events...)
}

// System returns a copy of the recorded system events.
func (f *FakeBroker) System() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.SystemEvents...)
}

// Close marks the broker as closed.
func (f *FakeBroker) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake broker is "connected".
func (f *FakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded messages and injected errors.
func (f *FakeBroker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Messages = make(map[string][][]byte)
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Announced = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SubscribeError = nil
}

var (
	_ channel.Publisher     = (*FakeBroker)(nil)
	_ channel.CommandSource = (*FakeBroker)(nil)
	_ channel.Publisher     = (*RealClient)(nil)
	_ channel.CommandSource = (*RealClient)(nil)
)
