package messaging

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when sending through a producer that has been closed.
	ErrClosed = errors.New("messaging: producer closed")
	// ErrRedeliver asks the fabric to hand the same message to the handler
	// again instead of moving past it. The message must not have been acked.
	ErrRedeliver = errors.New("messaging: redeliver message")
)

type Header struct {
	Key   string
	Value []byte
}

// Message is one inbound record together with its acknowledgment handle.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Time      time.Time
	Ack       *Ack
}

// Header returns the first header value stored under key.
func (m Message) Header(key string) (string, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// Handler processes a consumed message.
type Handler func(ctx context.Context, msg Message) error

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain wraps h so that mws[0] runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Consumer delivers messages of one topic to a handler until ctx is done.
// Messages of one partition are handed over strictly one at a time.
type Consumer interface {
	Run(ctx context.Context, h Handler) error
}

// Record is an outbound message.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers []Header
}

// Delivery reports the broker's verdict on one record.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Err       error
}

// Producer sends records asynchronously. Send returns once the record is
// accepted for delivery; the returned channel yields exactly one Delivery and
// is then closed. Implementations must be safe for concurrent use.
type Producer interface {
	Send(ctx context.Context, rec Record) (<-chan Delivery, error)
	Flush(ctx context.Context) error
	Close() error
}

// Ack releases a message exactly once, no matter how many times Release is called.
type Ack struct {
	once     sync.Once
	fn       func(context.Context) error
	err      error
	released chan struct{}
}

// NewAck wraps the commit function of a consumed message. A nil fn acks as a no-op.
func NewAck(fn func(context.Context) error) *Ack {
	return &Ack{fn: fn, released: make(chan struct{})}
}

// Release commits the message the first time it is called and returns the
// first call's result on every later call.
func (a *Ack) Release(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if a.fn != nil {
			a.err = a.fn(ctx)
		}
		close(a.released)
	})
	return a.err
}

// Released reports whether Release has completed.
func (a *Ack) Released() bool {
	if a == nil {
		return false
	}
	select {
	case <-a.released:
		return true
	default:
		return false
	}
}

// Resolved returns a delivery channel that already holds d.
func Resolved(d Delivery) <-chan Delivery {
	ch := make(chan Delivery, 1)
	ch <- d
	close(ch)
	return ch
}
