package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/logic"
)

// Config configures a RealClient.
type Config struct {
	Broker      string
	ClientID    string // empty derives "relay-controller-<random>"
	TopicPrefix string
	OutboxSize  int
	Logger      *slog.Logger
}

// writeTimeout bounds how long the writer goroutine waits on a stalled link.
const writeTimeout = 5 * time.Second

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client paho.Client
	topics Topics
	logger *slog.Logger
	outbox *outbox

	mu       sync.Mutex
	handlers map[string]func(logic.RemoteCommand) // keyed by command topic
	paths    map[string]string                    // command topic -> path
	meta     []channel.Descriptor
}

// NewRealClient connects to the broker. Subscriptions and metadata are
// restored on every reconnect.
func NewRealClient(cfg Config) (*RealClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "relay-controller-" + uuid.NewString()[:8]
	}

	c := &RealClient{
		topics:   Topics{Prefix: cfg.TopicPrefix},
		logger:   logger.With("component", "mqtt"),
		outbox:   newOutbox(cfg.OutboxSize),
		handlers: make(map[string]func(logic.RemoteCommand)),
		paths:    make(map[string]string),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "connection lost"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWriteTimeout(writeTimeout).
		SetBinaryWill(c.topics.System(), will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("mqtt connection lost", "error", err)
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	go c.outbox.run(c.send)
	return c, nil
}

func (c *RealClient) onConnect(client paho.Client) {
	c.logger.Info("mqtt connected")

	c.mu.Lock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	meta := append([]channel.Descriptor(nil), c.meta...)
	c.mu.Unlock()

	for _, topic := range topics {
		client.Subscribe(topic, 0, c.handle)
	}
	for _, d := range meta {
		if err := c.publishMeta(d); err != nil {
			c.logger.Warn("republish metadata failed", "path", d.Path, "error", err)
		}
	}
}

func (c *RealClient) handle(_ paho.Client, msg paho.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mqtt handler panic", "topic", msg.Topic(), "panic", r)
		}
	}()

	c.mu.Lock()
	h, ok := c.handlers[msg.Topic()]
	path := c.paths[msg.Topic()]
	c.mu.Unlock()
	if !ok {
		return
	}

	cmd, err := ParseCommand(path, msg.Payload())
	if err != nil {
		c.logger.Warn("dropping malformed command", "topic", msg.Topic(), "error", err)
		return
	}
	h(cmd)
}

// Publish queues a relay state message for the writer goroutine. It never
// waits for the broker: a full outbox drops the message.
func (c *RealClient) Publish(ev logic.PublishEvent) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := FormatPayload(ev)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return c.outbox.offer(message{topic: c.topics.State(ev.Path), payload: payload})
}

// send runs on the writer goroutine.
func (c *RealClient) send(m message) {
	// QoS 0 (at-most-once), not retained
	token := c.client.Publish(m.topic, 0, false, m.payload)
	if token.WaitTimeout(writeTimeout) && token.Error() != nil {
		c.logger.Warn("mqtt publish failed", "topic", m.topic, "error", token.Error())
	}
}

// Dropped returns how many state messages were discarded on a full outbox.
func (c *RealClient) Dropped() uint64 {
	return c.outbox.dropped.Load()
}

// Subscribe routes commands on the path's command topic to h.
func (c *RealClient) Subscribe(path string, h func(logic.RemoteCommand)) error {
	topic := c.topics.Command(path)

	c.mu.Lock()
	c.handlers[topic] = h
	c.paths[topic] = path
	c.mu.Unlock()

	token := c.client.Subscribe(topic, 0, c.handle)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("mqtt subscribed", "topic", topic)
	return nil
}

// Announce publishes retained metadata for every channel.
func (c *RealClient) Announce(descs []channel.Descriptor) error {
	c.mu.Lock()
	c.meta = append([]channel.Descriptor(nil), descs...)
	c.mu.Unlock()

	for _, d := range descs {
		if err := c.publishMeta(d); err != nil {
			return err
		}
	}
	return nil
}

func (c *RealClient) publishMeta(d channel.Descriptor) error {
	payload, err := FormatMeta(d)
	if err != nil {
		return fmt.Errorf("format meta: %w", err)
	}
	token := c.client.Publish(c.topics.Meta(d.Path), 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish meta timeout")
	}
	return token.Error()
}

// PublishSystem sends a system lifecycle event to the MQTT broker. It waits
// for delivery and must not be called from the event loop.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	token := c.client.Publish(c.topics.System(), 1, event.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Close stops the writer and disconnects from the broker.
func (c *RealClient) Close() error {
	c.outbox.stop()
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
