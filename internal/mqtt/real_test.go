package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/relay-controller/internal/logging"
	"github.com/sweeney/relay-controller/internal/logic"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stalledClient is a paho client whose Publish blocks until release is
// closed, like a broker link whose TCP writes have stopped.
type stalledClient struct {
	paho.Client

	release chan struct{}

	mu     sync.Mutex
	topics []string
}

func (c *stalledClient) IsConnected() bool { return true }

func (c *stalledClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	<-c.release
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	return doneToken{}
}

func (c *stalledClient) Disconnect(uint) {}

func (c *stalledClient) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

func newStalledRealClient(size int) (*RealClient, *stalledClient) {
	sc := &stalledClient{release: make(chan struct{})}
	c := &RealClient{
		client:   sc,
		logger:   logging.Discard(),
		outbox:   newOutbox(size),
		handlers: make(map[string]func(logic.RemoteCommand)),
		paths:    make(map[string]string),
	}
	go c.outbox.run(c.send)
	return c, sc
}

func TestRealClientPublishDoesNotWaitOnStalledLink(t *testing.T) {
	c, sc := newStalledRealClient(2)

	results := make(chan error, 10)
	go func() {
		for i := 0; i < 10; i++ {
			results <- c.Publish(logic.PublishEvent{Path: cabinPath, Value: true, Timestamp: time.Now()})
		}
		close(results)
	}()

	var queued, full int
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case err, ok := <-results:
			if !ok {
				done = true
				break
			}
			switch {
			case err == nil:
				queued++
			case errors.Is(err, ErrOutboxFull):
				full++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		case <-deadline:
			t.Fatal("Publish blocked on a stalled broker link")
		}
	}

	if queued < 2 || queued > 3 {
		t.Errorf("expected 2 or 3 queued messages, got %d", queued)
	}
	if full != 10-queued {
		t.Errorf("expected %d dropped, got %d", 10-queued, full)
	}
	if c.Dropped() != uint64(full) {
		t.Errorf("Dropped: got %d, want %d", c.Dropped(), full)
	}

	close(sc.release)
	deadline = time.After(2 * time.Second)
	for sc.sent() < queued {
		select {
		case <-deadline:
			t.Fatalf("writer sent %d of %d", sc.sent(), queued)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOutboxStopIsIdempotent(t *testing.T) {
	o := newOutbox(0)
	if cap(o.queue) != defaultOutbox {
		t.Errorf("default size: got %d, want %d", cap(o.queue), defaultOutbox)
	}
	go o.run(func(message) {})
	o.stop()
	o.stop()
}
