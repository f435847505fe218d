// Package membus is an in-memory partitioned broker. It keeps every record in
// an append-only log per partition and tracks committed offsets per consumer
// group, so it can stand in for Kafka in local runs and tests. Nothing is
// durable.
package membus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/partition"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/cespare/xxhash/v2"
)

const (
	componentBus      = "membus"
	defaultPartitions = 4
)

type topicLog struct {
	mu         sync.Mutex
	partitions [][]messaging.Message
	notify     chan struct{}
}

func newTopicLog(n int) *topicLog {
	return &topicLog{partitions: make([][]messaging.Message, n), notify: make(chan struct{})}
}

func (t *topicLog) append(p int, msg messaging.Message) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg.Partition = p
	msg.Offset = int64(len(t.partitions[p]))
	t.partitions[p] = append(t.partitions[p], msg)
	close(t.notify)
	t.notify = make(chan struct{})
	return msg.Offset
}

// read blocks until the partition holds a record at offset or ctx is done.
func (t *topicLog) read(ctx context.Context, p int, offset int64) (messaging.Message, bool) {
	for {
		t.mu.Lock()
		if offset < int64(len(t.partitions[p])) {
			msg := t.partitions[p][offset]
			t.mu.Unlock()
			return msg, true
		}
		wait := t.notify
		t.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return messaging.Message{}, false
		}
	}
}

// Bus implements messaging.Producer and hands out group consumers.
type Bus struct {
	partitions int
	clock      func() time.Time
	log        observability.Logger

	mu        sync.Mutex
	topics    map[string]*topicLog
	committed map[string]int64
	closed    bool
	rr        atomic.Uint64
}

var _ messaging.Producer = (*Bus)(nil)

type Option func(*Bus)

// WithPartitions sets how many partitions every topic gets.
func WithPartitions(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.partitions = n
		}
	}
}

func New(logger observability.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	b := &Bus{
		partitions: defaultPartitions,
		clock:      time.Now,
		log:        logger.With(observability.F("component", componentBus)),
		topics:     make(map[string]*topicLog),
		committed:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) topic(name string) *topicLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = newTopicLog(b.partitions)
		b.topics[name] = t
	}
	return t
}

// PartitionFor maps a key to a partition. Keyless records are spread round robin.
func (b *Bus) PartitionFor(key []byte) int {
	if len(key) == 0 {
		return int(b.rr.Add(1) % uint64(b.partitions))
	}
	return int(xxhash.Sum64(key) % uint64(b.partitions))
}

// Send appends rec to its topic. The delivery is resolved before Send returns.
func (b *Bus) Send(ctx context.Context, rec messaging.Record) (<-chan messaging.Delivery, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, messaging.ErrClosed
	}
	if rec.Topic == "" {
		return messaging.Resolved(messaging.Delivery{Err: fmt.Errorf("membus: record without topic")}), nil
	}

	p := b.PartitionFor(rec.Key)
	offset := b.topic(rec.Topic).append(p, messaging.Message{
		Topic:   rec.Topic,
		Key:     append([]byte(nil), rec.Key...),
		Value:   append([]byte(nil), rec.Value...),
		Headers: partition.InjectTrace(ctx, rec.Headers),
		Time:    b.clock(),
	})
	logctx.FromOr(ctx, b.log).Debug("record_appended",
		observability.F("topic", rec.Topic),
		observability.F("partition", p),
		observability.F("offset", offset),
	)
	return messaging.Resolved(messaging.Delivery{Topic: rec.Topic, Partition: p, Offset: offset}), nil
}

func (b *Bus) Flush(context.Context) error { return nil }

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.log.Info("membus_closed")
	}
	return nil
}

func (b *Bus) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Records returns a snapshot of every record of topic, partition by partition.
func (b *Bus) Records(topic string) []messaging.Message {
	t := b.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []messaging.Message
	for _, part := range t.partitions {
		out = append(out, part...)
	}
	return out
}

// Committed returns the next offset group will read from a partition.
func (b *Bus) Committed(group, topic string, p int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[offsetKey(group, topic, p)]
}

func (b *Bus) commit(group, topic string, p int, next int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := offsetKey(group, topic, p)
	if next > b.committed[key] {
		b.committed[key] = next
	}
}

func offsetKey(group, topic string, p int) string {
	return fmt.Sprintf("%s/%s/%d", group, topic, p)
}

// Consumer returns a group consumer of topic. Every Run resumes from the
// group's committed offsets.
func (b *Bus) Consumer(topic, group string, cfg partition.Config, shutdownGrace time.Duration) *Consumer {
	return &Consumer{bus: b, topic: topic, group: group, cfg: cfg, grace: shutdownGrace}
}

type Consumer struct {
	bus   *Bus
	topic string
	group string
	cfg   partition.Config
	grace time.Duration
}

var _ messaging.Consumer = (*Consumer)(nil)

func (c *Consumer) Run(ctx context.Context, h messaging.Handler) error {
	logger := c.bus.log.With(observability.F("topic", c.topic), observability.F("group", c.group))
	group := partition.NewGroup(ctx, c.topic, h, c.cfg, logger)
	records := c.bus.topic(c.topic)

	var wg sync.WaitGroup
	for p := 0; p < c.bus.partitions; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			c.feed(ctx, records, group, p)
		}(p)
	}
	logger.Info("membus_consumer_started", observability.F("partitions", c.bus.partitions))

	wg.Wait()
	if !group.Shutdown(c.grace) {
		logger.Warn("membus_consumer_shutdown_incomplete")
	}
	logger.Info("membus_consumer_stopped")
	return nil
}

func (c *Consumer) feed(ctx context.Context, records *topicLog, group *partition.Group, p int) {
	next := c.bus.Committed(c.group, c.topic, p)
	for {
		msg, ok := records.read(ctx, p, next)
		if !ok {
			return
		}
		offset := msg.Offset
		msg.Ack = messaging.NewAck(func(context.Context) error {
			c.bus.commit(c.group, c.topic, p, offset+1)
			return nil
		})
		if err := group.Dispatch(ctx, msg); err != nil {
			return
		}
		next++
	}
}
