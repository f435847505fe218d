package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/partition"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	componentProducer = "kafka_producer"
	// deliveryHeader carries a per-record id used to match async completions
	// back to the Send call that produced them.
	deliveryHeader = "deliveryId"
)

type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	BatchTimeout time.Duration
}

// Producer writes records asynchronously and reports each record's
// partition and offset through the channel returned by Send.
type Producer struct {
	writer *kafkago.Writer
	log    observability.Logger

	mu       sync.Mutex
	pending  map[string]chan messaging.Delivery
	inflight sync.WaitGroup
	closed   bool
}

var _ messaging.Producer = (*Producer)(nil)

func NewProducer(cfg ProducerConfig, logger observability.Logger) *Producer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	p := &Producer{
		log:     logger.With(observability.F("component", componentProducer)),
		pending: make(map[string]chan messaging.Delivery),
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
		Completion:   p.complete,
		Transport:    &kafkago.Transport{ClientID: cfg.ClientID},
		ErrorLogger:  errorLogger(p.log),
	}
	return p
}

// Send queues rec on the writer. The delivery resolves when the batch holding
// rec is acknowledged or fails.
func (p *Producer) Send(ctx context.Context, rec messaging.Record) (<-chan messaging.Delivery, error) {
	id := uuid.NewString()
	ch := make(chan messaging.Delivery, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, messaging.ErrClosed
	}
	p.pending[id] = ch
	p.inflight.Add(1)
	p.mu.Unlock()

	headers := partition.InjectTrace(ctx, rec.Headers)
	headers = append(headers, messaging.Header{Key: deliveryHeader, Value: []byte(id)})
	msg := kafkago.Message{
		Topic:   rec.Topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: toKafkaHeaders(headers),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.resolve(id, messaging.Delivery{Topic: rec.Topic, Err: err})
		logctx.FromOr(ctx, p.log).Warn("kafka_write_rejected",
			observability.F("topic", rec.Topic),
			observability.F("error", err),
		)
	}
	return ch, nil
}

// complete is the writer's async completion callback.
func (p *Producer) complete(messages []kafkago.Message, err error) {
	for _, m := range messages {
		id := headerValue(m.Headers, deliveryHeader)
		if id == "" {
			continue
		}
		d := messaging.Delivery{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset, Err: err}
		if err != nil {
			d.Err = fmt.Errorf("kafka: write %s: %w", m.Topic, err)
		}
		p.resolve(id, d)
	}
}

func (p *Producer) resolve(id string, d messaging.Delivery) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	ch <- d
	close(ch)
	p.inflight.Done()
}

// Flush waits until every record sent so far is resolved.
func (p *Producer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka: flush: %w", ctx.Err())
	}
}

// Close drains the writer and fails whatever is still unresolved with
// messaging.ErrClosed.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.writer.Close()

	p.mu.Lock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.resolve(id, messaging.Delivery{Err: messaging.ErrClosed})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	p.log.Info("kafka_producer_closed", observability.F("abandoned", len(ids)))
	return nil
}

func (p *Producer) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func toKafkaHeaders(headers []messaging.Header) []kafkago.Header {
	out := make([]kafkago.Header, len(headers))
	for i, h := range headers {
		out[i] = kafkago.Header{Key: h.Key, Value: h.Value}
	}
	return out
}

func fromKafkaHeaders(headers []kafkago.Header) []messaging.Header {
	out := make([]messaging.Header, 0, len(headers))
	for _, h := range headers {
		if h.Key == deliveryHeader {
			continue
		}
		out = append(out, messaging.Header{Key: h.Key, Value: h.Value})
	}
	return out
}

func headerValue(headers []kafkago.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func errorLogger(logger observability.Logger) kafkago.LoggerFunc {
	return func(msg string, args ...interface{}) {
		logger.Warn("kafka_client_error", observability.F("detail", fmt.Sprintf(msg, args...)))
	}
}

func debugLogger(logger observability.Logger) kafkago.LoggerFunc {
	return func(msg string, args ...interface{}) {
		logger.Debug("kafka_client", observability.F("detail", fmt.Sprintf(msg, args...)))
	}
}
