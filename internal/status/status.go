// Package status provides a thread-safe status tracker for the relay controller.
// It is written from the event loop and read by HTTP handlers and system events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/relay-controller/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceName       string
	DebounceMs       int64
	RepeatIntervalMs int64
	HeartbeatMs      int64
	Transport        string
	Broker           string
	HTTPAddr         string
}

// ChannelInfo is the static description of a channel.
type ChannelInfo struct {
	ID        int
	Label     string
	Path      string
	SortOrder int
	InputPin  int
	RelayPin  int
	LEDPin    int
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	ChannelInfo
	On             bool
	Presses        int
	Toggles        int
	RemoteCommands int
	Publishes      int
	PublishErrors  int
	LastChange     time.Time
}

// State returns the display form of the relay state.
func (c ChannelStatus) State() logic.State {
	return logic.StateOf(c.On)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels           []ChannelStatus
	StartTime          time.Time
	Now                time.Time
	TransportConnected bool
	Network            *NetworkInfo
	Config             Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Channel returns the status of channel id.
func (s Snapshot) Channel(id int) (ChannelStatus, bool) {
	for _, c := range s.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return ChannelStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	channels map[int]*ChannelStatus
	now      func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		channels: make(map[int]*ChannelStatus),
		now:      time.Now,
	}
}

// AddChannel registers a channel with its initial relay state.
func (t *Tracker) AddChannel(info ChannelInfo, on bool) {
	t.mu.Lock()
	t.channels[info.ID] = &ChannelStatus{ChannelInfo: info, On: on}
	t.mu.Unlock()
}

func (t *Tracker) update(id int, fn func(c *ChannelStatus)) {
	t.mu.Lock()
	if c, ok := t.channels[id]; ok {
		fn(c)
	}
	t.mu.Unlock()
}

// SetState records a write to channel id.
func (t *Tracker) SetState(id int, on bool, at time.Time) {
	t.update(id, func(c *ChannelStatus) {
		c.On = on
		c.LastChange = at
	})
}

// RecordPress counts a debounced press-down edge.
func (t *Tracker) RecordPress(id int) {
	t.update(id, func(c *ChannelStatus) { c.Presses++ })
}

// RecordToggle counts a local toggle.
func (t *Tracker) RecordToggle(id int) {
	t.update(id, func(c *ChannelStatus) { c.Toggles++ })
}

// RecordRemoteCommand counts an applied remote command.
func (t *Tracker) RecordRemoteCommand(id int) {
	t.update(id, func(c *ChannelStatus) { c.RemoteCommands++ })
}

// RecordPublish counts a publish attempt and whether it failed.
func (t *Tracker) RecordPublish(id int, err error) {
	t.update(id, func(c *ChannelStatus) {
		c.Publishes++
		if err != nil {
			c.PublishErrors++
		}
	})
}

// SetTransportConnected sets the telemetry transport connection status.
func (t *Tracker) SetTransportConnected(connected bool) {
	t.mu.Lock()
	t.snap.TransportConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state, channels
// ordered by sort order then id.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = make([]ChannelStatus, 0, len(t.channels))
	for _, c := range t.channels {
		s.Channels = append(s.Channels, *c)
	}
	t.mu.RUnlock()

	sort.Slice(s.Channels, func(i, j int) bool {
		a, b := s.Channels[i], s.Channels[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
	s.Now = t.now()
	return s
}
