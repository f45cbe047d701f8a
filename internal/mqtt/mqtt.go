// Package mqtt carries relay state to an MQTT broker and remote commands back.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/logic"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "vessels/self"

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// Topics maps telemetry paths to MQTT topics under one prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// State is the topic relay state is published on.
func (t Topics) State(path string) string {
	return t.prefix() + "/" + strings.ReplaceAll(path, ".", "/")
}

// Command is the topic remote writes for path arrive on.
func (t Topics) Command(path string) string {
	return t.State(path) + "/set"
}

// Meta is the retained metadata topic for path.
func (t Topics) Meta(path string) string {
	return t.State(path) + "/meta"
}

// System is the lifecycle event topic.
func (t Topics) System() string {
	return t.prefix() + "/system"
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the JSON body of a state message.
type StatePayload struct {
	Path      string `json:"path"`
	Value     bool   `json:"value"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

// FormatPayload creates the JSON payload for a relay state publish.
func FormatPayload(ev logic.PublishEvent) ([]byte, error) {
	return json.Marshal(StatePayload{
		Path:      ev.Path,
		Value:     ev.Value,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Reason:    string(ev.Reason),
	})
}

// MetaPayload describes a channel for dashboards.
type MetaPayload struct {
	Path        string `json:"path"`
	ID          int    `json:"id"`
	Label       string `json:"label"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ConfigKey   string `json:"configKey,omitempty"`
	SortOrder   int    `json:"sortOrder"`
}

// FormatMeta creates the retained metadata payload for a channel.
func FormatMeta(d channel.Descriptor) ([]byte, error) {
	return json.Marshal(MetaPayload{
		Path:        d.Path,
		ID:          d.ID,
		Label:       d.Label,
		Title:       d.Title,
		Description: d.Description,
		ConfigKey:   d.ConfigKey,
		SortOrder:   d.SortOrder,
	})
}

// ParseCommand decodes a command payload for path. Accepted forms are
// true, false, 1, 0, on, off (any case) and {"value": bool}.
func ParseCommand(path string, payload []byte) (logic.RemoteCommand, error) {
	cmd := logic.RemoteCommand{Path: path, Source: "mqtt"}
	s := strings.TrimSpace(string(payload))

	if strings.HasPrefix(s, "{") {
		var body struct {
			Value *bool `json:"value"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return cmd, fmt.Errorf("decode command: %w", err)
		}
		if body.Value == nil {
			return cmd, errors.New("command has no value")
		}
		cmd.Value = *body.Value
		return cmd, nil
	}

	switch strings.ToLower(s) {
	case "true", "1", "on":
		cmd.Value = true
	case "false", "0", "off":
		cmd.Value = false
	default:
		return cmd, fmt.Errorf("unrecognised command payload %q", s)
	}
	return cmd, nil
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
