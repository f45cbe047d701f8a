// Package config loads the relay controller configuration from an optional
// YAML file and RELAY_* environment variables.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/gpio"
	"github.com/sweeney/relay-controller/internal/logging"
)

// Transport kinds.
const (
	TransportMQTT    = "mqtt"
	TransportSignalK = "signalk"
	TransportNone    = "none"
)

// DefaultPaths are the Signal K paths of the four-relay board.
var DefaultPaths = []string{
	"electrical.switches.light.cabin.state",
	"electrical.switches.light.port.state",
	"electrical.switches.light.starboard.state",
	"electrical.switches.light.engine.state",
}

type Config struct {
	Device         DeviceConfig    `mapstructure:"device"`
	Transport      string          `mapstructure:"transport"`
	MQTT           MQTTConfig      `mapstructure:"mqtt"`
	SignalK        SignalKConfig   `mapstructure:"signalk"`
	GPIO           GPIOConfig      `mapstructure:"gpio"`
	Debounce       time.Duration   `mapstructure:"debounce"`
	RepeatInterval time.Duration   `mapstructure:"repeat_interval"`
	Heartbeat      time.Duration   `mapstructure:"heartbeat"`
	HTTP           HTTPConfig      `mapstructure:"http"`
	Log            LogConfig       `mapstructure:"log"`
	Channels       []ChannelConfig `mapstructure:"channels"`
}

type DeviceConfig struct {
	Name string `mapstructure:"name"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type SignalKConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type GPIOConfig struct {
	Chip string `mapstructure:"chip"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ChannelConfig describes one relay channel. Zero-valued metadata fields
// are filled from the channel id.
type ChannelConfig struct {
	ID             int    `mapstructure:"id"`
	Label          string `mapstructure:"label"`
	Title          string `mapstructure:"title"`
	Description    string `mapstructure:"description"`
	ConfigKey      string `mapstructure:"config_key"`
	InputPin       int    `mapstructure:"input_pin"`
	RelayPin       int    `mapstructure:"relay_pin"`
	LEDPin         int    `mapstructure:"led_pin"`
	Path           string `mapstructure:"path"`
	SortOrder      int    `mapstructure:"sort_order"`
	RelayActiveLow *bool  `mapstructure:"relay_active_low"`
}

// ActiveLow reports the relay polarity, defaulting to active-low.
func (c ChannelConfig) ActiveLow() bool {
	return c.RelayActiveLow == nil || *c.RelayActiveLow
}

// DefaultChannels returns the four-channel table of the reference board.
func DefaultChannels() []ChannelConfig {
	out := make([]ChannelConfig, len(DefaultPaths))
	for i := range DefaultPaths {
		out[i] = ChannelConfig{
			ID:        i + 1,
			InputPin:  gpio.DefaultButtonPins[i],
			RelayPin:  gpio.DefaultRelayPins[i],
			LEDPin:    gpio.DefaultLEDPins[i],
			Path:      DefaultPaths[i],
			SortOrder: 100 + i,
		}
		out[i].fillMetadata()
	}
	return out
}

// Descriptor converts the entry for channel assembly. Relays start off.
func (c ChannelConfig) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		ID:             c.ID,
		Label:          c.Label,
		Title:          c.Title,
		Description:    c.Description,
		ConfigKey:      c.ConfigKey,
		InputPin:       c.InputPin,
		RelayPin:       c.RelayPin,
		LEDPin:         c.LEDPin,
		Path:           c.Path,
		SortOrder:      c.SortOrder,
		RelayActiveLow: c.ActiveLow(),
	}
}

// Descriptors converts every channel entry.
func (c *Config) Descriptors() []channel.Descriptor {
	out := make([]channel.Descriptor, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = ch.Descriptor()
	}
	return out
}

func (c *ChannelConfig) fillMetadata() {
	if c.Label == "" {
		c.Label = fmt.Sprintf("Relay %d", c.ID)
	}
	if c.Title == "" {
		c.Title = fmt.Sprintf("Relay %d SK Output Path", c.ID)
	}
	if c.Description == "" {
		c.Description = fmt.Sprintf("Remote control relay state for relay %d", c.ID)
	}
	if c.ConfigKey == "" {
		c.ConfigKey = fmt.Sprintf("/Remote/Control/Relay%d/Value", c.ID)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.name", "Light-Inside-Relays")
	v.SetDefault("transport", TransportMQTT)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", "vessels/self")
	v.SetDefault("signalk.url", "ws://localhost:3000")
	v.SetDefault("signalk.token", "")
	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("debounce", 50*time.Millisecond)
	v.SetDefault("repeat_interval", 10*time.Second)
	v.SetDefault("heartbeat", 15*time.Minute)
	v.SetDefault("http.addr", ":80")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path (skipped when empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// LoadFromReader is Load for YAML held in memory.
func LoadFromReader(r io.Reader) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels()
	}
	for i := range cfg.Channels {
		cfg.Channels[i].fillMetadata()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs multiErr

	switch c.Transport {
	case TransportMQTT:
		if strings.TrimSpace(c.MQTT.Broker) == "" {
			errs.add("mqtt.broker is required for transport=mqtt")
		}
	case TransportSignalK:
		if strings.TrimSpace(c.SignalK.URL) == "" {
			errs.add("signalk.url is required for transport=signalk")
		}
	case TransportNone:
	default:
		errs.addf("transport must be one of %s, %s, %s (got %q)", TransportMQTT, TransportSignalK, TransportNone, c.Transport)
	}

	if c.Debounce < 0 {
		errs.add("debounce cannot be negative")
	}
	if c.RepeatInterval <= 0 {
		errs.add("repeat_interval must be > 0")
	}
	if c.Heartbeat < 0 {
		errs.add("heartbeat cannot be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.add(err.Error())
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "json" && f != "text" {
		errs.addf("log.format must be json or text (got %q)", c.Log.Format)
	}

	/* Channels */
	if len(c.Channels) == 0 || len(c.Channels) > channel.MaxChannels {
		errs.addf("channels: need 1..%d entries, got %d", channel.MaxChannels, len(c.Channels))
	}
	seenIDs := map[int]int{}
	seenPaths := map[string]int{}
	seenPins := map[int]string{}
	for i, ch := range c.Channels {
		if ch.ID < 1 || ch.ID > channel.MaxChannels {
			errs.addf("channels[%d]: id must be 1..%d", i, channel.MaxChannels)
		} else if j, ok := seenIDs[ch.ID]; ok {
			errs.addf("channels[%d]: duplicate id %d (also at channels[%d])", i, ch.ID, j)
		} else {
			seenIDs[ch.ID] = i
		}

		if !channel.ValidPath(ch.Path) {
			errs.addf("channels[%d/%d]: path %q is not a dotted path", i, ch.ID, ch.Path)
		} else if j, ok := seenPaths[ch.Path]; ok {
			errs.addf("channels[%d/%d]: duplicate path %q (also at channels[%d])", i, ch.ID, ch.Path, j)
		} else {
			seenPaths[ch.Path] = i
		}

		for _, p := range []struct {
			role string
			pin  int
		}{{"input_pin", ch.InputPin}, {"relay_pin", ch.RelayPin}, {"led_pin", ch.LEDPin}} {
			owner := fmt.Sprintf("channels[%d/%d].%s", i, ch.ID, p.role)
			if p.pin < 0 {
				errs.addf("%s: pin cannot be negative", owner)
			} else if other, ok := seenPins[p.pin]; ok {
				errs.addf("%s: pin %d already used by %s", owner, p.pin, other)
			} else {
				seenPins[p.pin] = owner
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
