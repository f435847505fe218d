// Package partition runs one sequential worker per topic partition. Messages
// of a partition are handled strictly in order; partitions progress
// independently.
package partition

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/cenkalti/backoff/v4"
)

const componentPartition = "partition_worker"

// ErrStopped is returned by Enqueue once the worker was stopped.
var ErrStopped = errors.New("partition: worker stopped")

type Config struct {
	// QueueSize is the backlog high-water mark of a partition. Crossing it is
	// logged; the fetch loop is never blocked by a slow partition.
	QueueSize         int
	RedeliveryInitial time.Duration
	RedeliveryMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RedeliveryInitial <= 0 {
		c.RedeliveryInitial = 500 * time.Millisecond
	}
	if c.RedeliveryMax < c.RedeliveryInitial {
		c.RedeliveryMax = c.RedeliveryInitial
	}
	return c
}

// Worker hands the messages of one partition to the handler one at a time.
type Worker struct {
	topic     string
	partition int
	handler   messaging.Handler
	cfg       Config
	signal    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	log       observability.Logger

	mu      sync.Mutex
	backlog []messaging.Message
	high    bool
}

func NewWorker(topic string, partition int, h messaging.Handler, cfg Config, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	cfg = cfg.withDefaults()
	return &Worker{
		topic:     topic,
		partition: partition,
		handler:   h,
		cfg:       cfg,
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		log: logger.With(
			observability.F("component", componentPartition),
			observability.F("topic", topic),
			observability.F("partition", partition),
		),
	}
}

// Start launches the worker loop. Handlers receive a context detached from
// ctx cancellation so an in-flight message can finish during shutdown.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.loop(context.WithoutCancel(ctx))
		w.log.Info("partition_worker_started")
	})
}

// Enqueue appends msg to the backlog without waiting for the handler.
func (w *Worker) Enqueue(ctx context.Context, msg messaging.Message) error {
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	w.backlog = append(w.backlog, msg)
	depth := len(w.backlog)
	crossed := depth > w.cfg.QueueSize && !w.high
	if crossed {
		w.high = true
	}
	w.mu.Unlock()

	if crossed {
		w.log.Warn("partition_backlog_high",
			observability.F("depth", depth),
			observability.F("high_water", w.cfg.QueueSize),
		)
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
	return nil
}

// Backlog reports how many messages wait behind the one being handled.
func (w *Worker) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

// Stop lets the current message finish and drops whatever is still queued.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) next() (messaging.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.backlog) == 0 {
		return messaging.Message{}, false
	}
	msg := w.backlog[0]
	w.backlog[0] = messaging.Message{}
	w.backlog = w.backlog[1:]
	if len(w.backlog) == 0 {
		w.backlog = nil
	}
	if w.high && len(w.backlog) <= w.cfg.QueueSize/2 {
		w.high = false
	}
	return msg, true
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			w.log.Info("partition_worker_stopped", observability.F("dropped", w.Backlog()))
			return
		default:
		}
		msg, ok := w.next()
		if !ok {
			select {
			case <-w.stop:
			case <-w.signal:
			}
			continue
		}
		w.deliver(ctx, msg)
	}
}

// deliver invokes the handler until it stops asking for redelivery. Each
// redelivery waits an exponentially growing delay capped at RedeliveryMax.
func (w *Worker) deliver(ctx context.Context, msg messaging.Message) {
	ctx = ExtractTrace(ctx, msg.Headers)
	ctx = logctx.With(ctx, logctx.FromOr(ctx, w.log).With(observability.F("offset", msg.Offset)))

	var policy *backoff.ExponentialBackOff
	for attempt := 1; ; attempt++ {
		err := w.invoke(ctx, msg)
		if err == nil {
			return
		}
		if !errors.Is(err, messaging.ErrRedeliver) {
			w.log.Warn("message_handler_error",
				observability.F("offset", msg.Offset),
				observability.F("error", err),
			)
			return
		}
		if policy == nil {
			policy = backoff.NewExponentialBackOff()
			policy.InitialInterval = w.cfg.RedeliveryInitial
			policy.MaxInterval = w.cfg.RedeliveryMax
			policy.MaxElapsedTime = 0
			policy.Reset()
		}
		wait := policy.NextBackOff()
		w.log.Warn("message_redelivery_scheduled",
			observability.F("offset", msg.Offset),
			observability.F("attempt", attempt),
			observability.F("delay", wait.String()),
		)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-w.stop:
			timer.Stop()
			w.log.Warn("message_redelivery_abandoned", observability.F("offset", msg.Offset))
			return
		}
	}
}

func (w *Worker) invoke(ctx context.Context, msg messaging.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("message_handler_panic",
				observability.F("offset", msg.Offset),
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("partition: handler panic: %v", r)
		}
	}()
	return w.handler(ctx, msg)
}

// Group lazily creates one Worker per partition of a topic.
type Group struct {
	ctx     context.Context
	topic   string
	handler messaging.Handler
	cfg     Config
	log     observability.Logger

	mu      sync.Mutex
	workers map[int]*Worker
	stopped bool
}

func NewGroup(ctx context.Context, topic string, h messaging.Handler, cfg Config, logger observability.Logger) *Group {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Group{
		ctx:     ctx,
		topic:   topic,
		handler: h,
		cfg:     cfg,
		log:     logger,
		workers: make(map[int]*Worker),
	}
}

// Dispatch queues msg on the worker of its partition. It never waits on a
// busy partition, so other partitions keep receiving messages.
func (g *Group) Dispatch(ctx context.Context, msg messaging.Message) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return ErrStopped
	}
	w, ok := g.workers[msg.Partition]
	if !ok {
		w = NewWorker(g.topic, msg.Partition, g.handler, g.cfg, g.log)
		w.Start(g.ctx)
		g.workers[msg.Partition] = w
	}
	g.mu.Unlock()
	return w.Enqueue(ctx, msg)
}

// Shutdown stops every worker and waits up to grace for in-flight messages.
// It reports whether all workers finished in time.
func (g *Group) Shutdown(grace time.Duration) bool {
	g.mu.Lock()
	g.stopped = true
	workers := make([]*Worker, 0, len(g.workers))
	for _, w := range g.workers {
		w.Stop()
		workers = append(workers, w)
	}
	g.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-deadline.C:
			g.log.Warn("partition_shutdown_grace_exceeded",
				observability.F("topic", g.topic),
				observability.F("grace", grace.String()),
			)
			return false
		}
	}
	return true
}
