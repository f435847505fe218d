package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/partition"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	componentConsumer = "kafka_consumer"
	fetchRetryDelay   = time.Second
)

type ConsumerConfig struct {
	Brokers       []string
	ClientID      string
	GroupID       string
	Topic         string
	Partition     partition.Config
	ShutdownGrace time.Duration
}

// Consumer reads one topic as a member of a consumer group. A single fetch
// loop feeds one sequential worker per partition; offsets are committed when
// a message is acked.
type Consumer struct {
	cfg ConsumerConfig
	log observability.Logger
}

var _ messaging.Consumer = (*Consumer)(nil)

func NewConsumer(cfg ConsumerConfig, logger observability.Logger) *Consumer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Consumer{
		cfg: cfg,
		log: logger.With(
			observability.F("component", componentConsumer),
			observability.F("topic", cfg.Topic),
			observability.F("group", cfg.GroupID),
		),
	}
}

func (c *Consumer) reader() *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		GroupID:        c.cfg.GroupID,
		Topic:          c.cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
		Dialer: &kafkago.Dialer{
			ClientID:  c.cfg.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		Logger:      debugLogger(c.log),
		ErrorLogger: errorLogger(c.log),
	})
}

// Run fetches until ctx is done, then stops the partition workers, waits up
// to ShutdownGrace for in-flight handlers and closes the reader.
func (c *Consumer) Run(ctx context.Context, h messaging.Handler) (err error) {
	r := c.reader()
	group := partition.NewGroup(ctx, c.cfg.Topic, h, c.cfg.Partition, c.log)
	c.log.Info("kafka_consumer_started")

	defer func() {
		if !group.Shutdown(c.cfg.ShutdownGrace) {
			c.log.Warn("kafka_consumer_shutdown_incomplete")
		}
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("kafka: close reader: %w", closeErr)
		}
		c.log.Info("kafka_consumer_stopped")
	}()

	for {
		m, fetchErr := r.FetchMessage(ctx)
		if fetchErr != nil {
			if ctx.Err() != nil || errors.Is(fetchErr, io.EOF) {
				return nil
			}
			c.log.Warn("kafka_fetch_failed", observability.F("error", fetchErr))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if dispatchErr := group.Dispatch(ctx, toMessage(r, m)); dispatchErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka: dispatch partition %d: %w", m.Partition, dispatchErr)
		}
	}
}

func toMessage(r *kafkago.Reader, m kafkago.Message) messaging.Message {
	committed := m
	return messaging.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   fromKafkaHeaders(m.Headers),
		Time:      m.Time,
		Ack: messaging.NewAck(func(ctx context.Context) error {
			if err := r.CommitMessages(ctx, committed); err != nil {
				return fmt.Errorf("kafka: commit offset %d: %w", committed.Offset, err)
			}
			return nil
		}),
	}
}
