package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Device        string        `json:"device"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Transport     TransportJSON `json:"transport"`
	Channels      []ChannelJSON `json:"channels"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// TransportJSON reports telemetry transport state.
type TransportJSON struct {
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	ID             int    `json:"id"`
	Label          string `json:"label"`
	Path           string `json:"path"`
	State          string `json:"state"`
	On             bool   `json:"on"`
	Presses        int    `json:"presses"`
	Toggles        int    `json:"toggles"`
	RemoteCommands int    `json:"remote_commands"`
	Publishes      int    `json:"publishes"`
	PublishErrors  int    `json:"publish_errors"`
	LastChange     string `json:"last_change,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	DebounceMs       int64  `json:"debounce_ms"`
	RepeatIntervalMs int64  `json:"repeat_interval_ms"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	HTTPAddr         string `json:"http_addr"`
}

// ChannelToJSON converts one channel status.
func ChannelToJSON(c ChannelStatus) ChannelJSON {
	cj := ChannelJSON{
		ID:             c.ID,
		Label:          c.Label,
		Path:           c.Path,
		State:          string(c.State()),
		On:             c.On,
		Presses:        c.Presses,
		Toggles:        c.Toggles,
		RemoteCommands: c.RemoteCommands,
		Publishes:      c.Publishes,
		PublishErrors:  c.PublishErrors,
	}
	if !c.LastChange.IsZero() {
		cj.LastChange = c.LastChange.UTC().Format(time.RFC3339)
	}
	return cj
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, 0, len(snap.Channels))
	for _, c := range snap.Channels {
		channels = append(channels, ChannelToJSON(c))
	}

	inner := StatusInner{
		Device:        snap.Config.DeviceName,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Transport: TransportJSON{
			Kind:      snap.Config.Transport,
			Connected: snap.TransportConnected,
			Broker:    snap.Config.Broker,
		},
		Channels: channels,
		Config: ConfigJSON{
			DebounceMs:       snap.Config.DebounceMs,
			RepeatIntervalMs: snap.Config.RepeatIntervalMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			HTTPAddr:         snap.Config.HTTPAddr,
		},
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
