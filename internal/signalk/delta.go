// Package signalk publishes relay state as Signal K deltas over the server's
// WebSocket stream and accepts PUT requests for the same paths.
package signalk

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/logic"
)

// DefaultContext addresses the local vessel.
const DefaultContext = "vessels.self"

// Delta is a Signal K delta message.
type Delta struct {
	Context string   `json:"context"`
	Updates []Update `json:"updates"`
}

// Update is one group of values or metadata from a single source.
type Update struct {
	Source    string      `json:"$source,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Values    []PathValue `json:"values,omitempty"`
	Meta      []PathMeta  `json:"meta,omitempty"`
}

type PathValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type PathMeta struct {
	Path  string `json:"path"`
	Value Meta   `json:"value"`
}

// Meta is the display metadata for a path.
type Meta struct {
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Title       string `json:"title,omitempty"`
	ConfigKey   string `json:"configKey,omitempty"`
	SortOrder   int    `json:"sortOrder"`
}

// FormatDelta encodes a relay state publish.
func FormatDelta(context, source string, ev logic.PublishEvent) ([]byte, error) {
	return json.Marshal(Delta{
		Context: context,
		Updates: []Update{{
			Source:    source,
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Values:    []PathValue{{Path: ev.Path, Value: ev.Value}},
		}},
	})
}

// FormatMeta encodes the metadata of every channel in one delta.
func FormatMeta(context string, descs []channel.Descriptor) ([]byte, error) {
	metas := make([]PathMeta, len(descs))
	for i, d := range descs {
		metas[i] = PathMeta{Path: d.Path, Value: Meta{
			DisplayName: d.Label,
			Description: d.Description,
			Title:       d.Title,
			ConfigKey:   d.ConfigKey,
			SortOrder:   d.SortOrder,
		}}
	}
	return json.Marshal(Delta{Context: context, Updates: []Update{{Meta: metas}}})
}

type putMessage struct {
	RequestID string `json:"requestId"`
	Put       *struct {
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value"`
	} `json:"put"`
}

// ParsePut decodes a stream message. ok is false for messages that are not
// PUT requests; err is set for PUT requests that cannot be applied.
func ParsePut(data []byte) (cmd logic.RemoteCommand, ok bool, err error) {
	var msg putMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return cmd, false, nil
	}
	if msg.Put == nil {
		return cmd, false, nil
	}
	cmd = logic.RemoteCommand{Path: msg.Put.Path, Source: "signalk"}
	if msg.Put.Path == "" {
		return cmd, true, errors.New("put without path")
	}

	var b bool
	if err := json.Unmarshal(msg.Put.Value, &b); err == nil {
		cmd.Value = b
		return cmd, true, nil
	}
	var n float64
	if err := json.Unmarshal(msg.Put.Value, &n); err == nil && (n == 0 || n == 1) {
		cmd.Value = n == 1
		return cmd, true, nil
	}
	return cmd, true, fmt.Errorf("put %s: value %s is not a boolean", msg.Put.Path, msg.Put.Value)
}
