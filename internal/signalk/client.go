package signalk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/logic"
)

// StreamPath is appended to the server URL.
const StreamPath = "/signalk/v1/stream?subscribe=none"

const (
	defaultOutbox    = 64
	defaultReconnect = 5 * time.Second
	writeWait        = 5 * time.Second
	pingPeriod       = 25 * time.Second
)

var (
	ErrNotConnected = errors.New("signalk not connected")
	ErrOutboxFull   = errors.New("signalk outbox full")
)

// Config configures a Client.
type Config struct {
	URL            string // ws://host:3000
	Token          string
	Context        string // defaults to vessels.self
	Source         string // $source label on every update
	OutboxSize     int
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Client keeps one WebSocket to a Signal K server open, reconnecting after
// loss. Publish never blocks: messages go through a bounded outbox and are
// dropped when it is full or the socket is down.
type Client struct {
	cfg    Config
	logger *slog.Logger
	outbox chan []byte

	connected atomic.Bool
	dropped   atomic.Uint64

	mu       sync.Mutex
	handlers map[string]func(logic.RemoteCommand)
	meta     []channel.Descriptor

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Client. Call Start to connect.
func New(cfg Config) *Client {
	if cfg.Context == "" {
		cfg.Context = DefaultContext
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutbox
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnect
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger.With("component", "signalk"),
		outbox:   make(chan []byte, cfg.OutboxSize),
		handlers: make(map[string]func(logic.RemoteCommand)),
		done:     make(chan struct{}),
	}
}

// StreamURL returns the WebSocket endpoint for the configured server.
func (c *Client) StreamURL() string {
	return strings.TrimRight(c.cfg.URL, "/") + StreamPath
}

// Start runs the connection loop until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Close stops the connection loop and waits for it to exit.
func (c *Client) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

// IsConnected reports whether the stream is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Dropped returns how many publishes were discarded.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Publish queues a delta for ev.
func (c *Client) Publish(ev logic.PublishEvent) error {
	if !c.connected.Load() {
		c.dropped.Add(1)
		return ErrNotConnected
	}
	b, err := FormatDelta(c.cfg.Context, c.cfg.Source, ev)
	if err != nil {
		return fmt.Errorf("format delta: %w", err)
	}
	select {
	case c.outbox <- b:
		return nil
	default:
		c.dropped.Add(1)
		return ErrOutboxFull
	}
}

// Subscribe routes PUT requests for path to h. h runs on the read goroutine.
func (c *Client) Subscribe(path string, h func(logic.RemoteCommand)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[path]; ok {
		return fmt.Errorf("path %s already subscribed", path)
	}
	c.handlers[path] = h
	return nil
}

// Announce sets the channel metadata sent on every connect.
func (c *Client) Announce(descs []channel.Descriptor) error {
	b, err := FormatMeta(c.cfg.Context, descs)
	if err != nil {
		return fmt.Errorf("format meta: %w", err)
	}
	c.mu.Lock()
	c.meta = append([]channel.Descriptor(nil), descs...)
	c.mu.Unlock()

	if c.connected.Load() {
		select {
		case c.outbox <- b:
		default:
			c.dropped.Add(1)
		}
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("signalk connect failed", "url", c.StreamURL(), "error", err)
		} else {
			c.logger.Info("signalk connected", "url", c.StreamURL())
			c.serve(ctx, conn)
			c.logger.Warn("signalk connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.StreamURL(), header)
	return conn, err
}

// serve owns conn until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.drainOutbox()

	c.mu.Lock()
	meta := c.meta
	c.mu.Unlock()
	if len(meta) > 0 {
		if b, err := FormatMeta(c.cfg.Context, meta); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Warn("signalk meta write failed", "error", err)
				conn.Close()
				return
			}
		}
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx, conn, stop)
	}()

	c.readPump(conn)
	close(stop)
	wg.Wait()
	conn.Close()
}

// drainOutbox discards messages queued for a previous connection.
func (c *Client) drainOutbox() {
	for {
		select {
		case <-c.outbox:
		default:
			return
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cmd, ok, err := ParsePut(data)
		if !ok {
			continue
		}
		if err != nil {
			c.logger.Warn("dropping put request", "error", err)
			continue
		}
		c.mu.Lock()
		h, found := c.handlers[cmd.Path]
		c.mu.Unlock()
		if !found {
			c.logger.Debug("put for unknown path", "path", cmd.Path)
			continue
		}
		h(cmd)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case msg := <-c.outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("signalk write failed", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

var _ channel.Publisher = (*Client)(nil)
var _ channel.CommandSource = (*Client)(nil)
