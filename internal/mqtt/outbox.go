package mqtt

import (
	"errors"
	"sync/atomic"
)

// ErrOutboxFull is returned by Publish when the writer has fallen behind.
var ErrOutboxFull = errors.New("mqtt outbox full")

const defaultOutbox = 64

type message struct {
	topic   string
	payload []byte
}

// outbox hands state messages to a single writer goroutine so the caller
// never waits on the broker.
type outbox struct {
	queue   chan message
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = defaultOutbox
	}
	return &outbox{
		queue:   make(chan message, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// offer queues m without blocking.
func (o *outbox) offer(m message) error {
	select {
	case o.queue <- m:
		return nil
	default:
		o.dropped.Add(1)
		return ErrOutboxFull
	}
}

// run passes queued messages to send until stop is called.
func (o *outbox) run(send func(message)) {
	defer close(o.stopped)
	for {
		select {
		case <-o.done:
			return
		case m := <-o.queue:
			send(m)
		}
	}
}

// stop ends run and waits for the in-flight send.
func (o *outbox) stop() {
	select {
	case <-o.done:
	default:
		close(o.done)
	}
	<-o.stopped
}
