package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/clock"
)

const (
	componentPublisher = "outcome_publisher"
	msgEmergency       = "Erro no sistema de mensageria"
	emergencyPrefix    = "Falha ao enviar resposta original: "

	resultSent      = "sent"
	resultRetry     = "retry_scheduled"
	resultFailed    = "failed"
	resultEmergency = "emergency"
	resultTimeout   = "ack_timeout"
)

var errNilOutcome = errors.New("dispatch: nil outcome")

var recoverableMarkers = []string{"timeout", "connection", "network", "retriable"}

// IsRecoverable reports whether a send error looks transient enough to retry.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range recoverableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type PublisherConfig struct {
	SuccessTopic string
	FailureTopic string
	// SendTimeout bounds how long an INTERNAL_ERROR publish blocks for the broker.
	SendTimeout time.Duration
	// RetryDelay is the pause before the single retry of a recoverable failure.
	RetryDelay time.Duration
}

type PublisherOption func(*Publisher)

func WithPublisherClock(clk clock.Clock) PublisherOption {
	return func(p *Publisher) {
		if clk != nil {
			p.clock = clk
		}
	}
}

// WithRetryScheduler replaces time.AfterFunc for scheduling retries.
func WithRetryScheduler(schedule func(time.Duration, func())) PublisherOption {
	return func(p *Publisher) {
		if schedule != nil {
			p.schedule = schedule
		}
	}
}

// WithOutcomeEncoder overrides how outcomes are serialised.
func WithOutcomeEncoder(encode func(*courtesy.Outcome) ([]byte, error)) PublisherOption {
	return func(p *Publisher) {
		if encode != nil {
			p.encode = encode
		}
	}
}

// Publisher routes outcomes to the success or failure topic.
type Publisher struct {
	producer messaging.Producer
	cfg      PublisherConfig
	clock    clock.Clock
	schedule func(time.Duration, func())
	encode   func(*courtesy.Outcome) ([]byte, error)
	inflight sync.WaitGroup

	log       observability.Logger
	published observability.Counter
}

func NewPublisher(producer messaging.Producer, cfg PublisherConfig, tel observability.Observability, opts ...PublisherOption) *Publisher {
	logger, _, metrics := observability.Resolve(tel)
	p := &Publisher{
		producer: producer,
		cfg:      cfg,
		clock:    clock.NewSystem(),
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		encode: func(o *courtesy.Outcome) ([]byte, error) {
			return o.Encode()
		},
		log:       logger.With(observability.F("component", componentPublisher)),
		published: metrics.Counter(observability.MOutcomesPublished),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends o asynchronously. Only INTERNAL_ERROR outcomes wait, up to
// SendTimeout, for the broker's verdict. An error is returned when the record
// could not be handed to the producer at all.
func (p *Publisher) Publish(ctx context.Context, o *courtesy.Outcome) error {
	logger := logctx.FromOr(ctx, p.log)
	rec, err := p.record(o)
	if err != nil {
		p.emergency(ctx, o, err)
		return nil
	}

	deliveries, err := p.producer.Send(ctx, rec)
	if err != nil {
		p.count(rec.Topic, o.Status, resultFailed)
		logger.Error("outcome_send_rejected",
			observability.F("topic", rec.Topic),
			observability.F("status", string(o.Status)),
			observability.F("error", err),
		)
		return fmt.Errorf("dispatch: publish outcome: %w", err)
	}

	first := make(chan messaging.Delivery, 1)
	p.inflight.Add(1)
	go p.await(context.WithoutCancel(ctx), o, rec, deliveries, first, true)

	if o.Status != courtesy.StatusInternalError {
		return nil
	}
	timer := time.NewTimer(p.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case d := <-first:
		if d.Err != nil {
			logger.Warn("internal_error_outcome_not_acknowledged", observability.F("error", d.Err))
		}
	case <-timer.C:
		p.count(rec.Topic, o.Status, resultTimeout)
		logger.Warn("internal_error_outcome_ack_timeout",
			observability.F("timeout", p.cfg.SendTimeout.String()),
		)
	case <-ctx.Done():
		logger.Warn("internal_error_outcome_wait_aborted", observability.F("error", ctx.Err()))
	}
	return nil
}

func (p *Publisher) record(o *courtesy.Outcome) (messaging.Record, error) {
	if o == nil {
		return messaging.Record{}, errNilOutcome
	}
	value, err := p.encode(o)
	if err != nil {
		return messaging.Record{}, err
	}
	now := p.clock.Now()
	return messaging.Record{
		Topic:   p.topicFor(o),
		Key:     []byte(OutcomeKey(o, now)),
		Value:   value,
		Headers: courtesy.NewOutcomeHeaders(o, now).Headers(),
	}, nil
}

func (p *Publisher) topicFor(o *courtesy.Outcome) string {
	if o.Success {
		return p.cfg.SuccessTopic
	}
	return p.cfg.FailureTopic
}

// await resolves one delivery. A recoverable failure on the first attempt
// schedules exactly one retry; the retry is never retried.
func (p *Publisher) await(ctx context.Context, o *courtesy.Outcome, rec messaging.Record, deliveries <-chan messaging.Delivery, first chan<- messaging.Delivery, allowRetry bool) {
	defer p.inflight.Done()
	logger := logctx.FromOr(ctx, p.log).With(
		observability.F("request_id", o.RequestID),
		observability.F("topic", rec.Topic),
		observability.F("status", string(o.Status)),
	)

	d, ok := <-deliveries
	if !ok {
		d = messaging.Delivery{Topic: rec.Topic, Err: messaging.ErrClosed}
	}
	select {
	case first <- d:
	default:
	}

	if d.Err == nil {
		p.count(rec.Topic, o.Status, resultSent)
		logger.Info("outcome_published",
			observability.F("partition", d.Partition),
			observability.F("offset", d.Offset),
			observability.F("retry", !allowRetry),
		)
		return
	}

	if allowRetry && IsRecoverable(d.Err) {
		p.count(rec.Topic, o.Status, resultRetry)
		logger.Warn("outcome_publish_retry_scheduled",
			observability.F("error", d.Err),
			observability.F("delay", p.cfg.RetryDelay.String()),
		)
		p.inflight.Add(1)
		p.schedule(p.cfg.RetryDelay, func() {
			defer p.inflight.Done()
			p.retry(ctx, o, rec)
		})
		return
	}

	p.count(rec.Topic, o.Status, resultFailed)
	logger.Error("outcome_publish_failed",
		observability.F("error", d.Err),
		observability.F("retry", !allowRetry),
	)
}

func (p *Publisher) retry(ctx context.Context, o *courtesy.Outcome, rec messaging.Record) {
	deliveries, err := p.producer.Send(ctx, rec)
	if err != nil {
		p.count(rec.Topic, o.Status, resultFailed)
		logctx.FromOr(ctx, p.log).Error("outcome_retry_rejected",
			observability.F("request_id", o.RequestID),
			observability.F("error", err),
		)
		return
	}
	p.inflight.Add(1)
	go p.await(ctx, o, rec, deliveries, make(chan messaging.Delivery, 1), false)
}

// emergency publishes a degraded outcome when the original could not be
// turned into a record. Best effort: nothing waits for its delivery.
func (p *Publisher) emergency(ctx context.Context, o *courtesy.Outcome, cause error) {
	logger := logctx.FromOr(ctx, p.log)
	now := p.clock.Now()
	degraded := courtesy.Failed(nil, courtesy.StatusInternalError, msgEmergency, emergencyPrefix+cause.Error(), now)
	if o != nil {
		degraded.RequestID = o.RequestID
		degraded.Email = o.Email
	}

	value, err := degraded.Encode()
	if err != nil {
		logger.Error("emergency_outcome_encode_failed", observability.F("error", err))
		return
	}
	key := degraded.RequestID
	if key == "" {
		key = OutcomeKey(degraded, now)
	}
	_, err = p.producer.Send(ctx, messaging.Record{
		Topic:   p.cfg.FailureTopic,
		Key:     []byte(key),
		Value:   value,
		Headers: courtesy.NewOutcomeHeaders(degraded, now).Headers(),
	})
	p.count(p.cfg.FailureTopic, courtesy.StatusInternalError, resultEmergency)
	fields := []observability.Field{
		observability.F("request_id", degraded.RequestID),
		observability.F("cause", cause.Error()),
	}
	if err != nil {
		fields = append(fields, observability.F("error", err))
	}
	logger.Error("emergency_outcome_sent", fields...)
}

// Flush waits for pending deliveries and scheduled retries, then flushes the producer.
func (p *Publisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("dispatch: flush publisher: %w", ctx.Err())
	}
	return p.producer.Flush(ctx)
}

// Healthy reports whether the underlying producer still accepts records.
func (p *Publisher) Healthy() bool {
	if h, ok := p.producer.(interface{ Healthy() bool }); ok {
		return h.Healthy()
	}
	return p.producer != nil
}

func (p *Publisher) count(topic string, status courtesy.Status, result string) {
	p.published.Add(1,
		observability.L("topic", topic),
		observability.L("status", string(status)),
		observability.L("result", result),
	)
}
