package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	workerService    = "request_consumer"
	useCaseConsume   = "dispatch.worker.request"
	msgInvalid       = "Dados da solicitação são inválidos"
	consumedHandled  = "handled"
	consumedInvalid  = "invalid"
	consumedFailed   = "failed"
	consumedWithheld = "withheld"
)

// AckPolicy decides what happens to a message whose handling failed outside
// the normal outcome flow.
type AckPolicy string

const (
	// AckForwardProgress acknowledges every message once its outcome was attempted.
	AckForwardProgress AckPolicy = "forward-progress"
	// AckStrictRedelivery withholds the ack of a failed message so it is delivered again.
	AckStrictRedelivery AckPolicy = "strict-redelivery"
)

var errNoOutcome = errors.New("dispatch: use case returned no outcome")

// OutcomePublisher is the slice of Publisher the consumer depends on.
type OutcomePublisher interface {
	Publish(ctx context.Context, o *courtesy.Outcome) error
}

// Worker consumes courtesy requests, runs them and publishes their outcomes.
type Worker struct {
	consumer  messaging.Consumer
	useCase   application.UseCase[*courtesy.Request, *courtesy.Outcome]
	publisher OutcomePublisher
	policy    AckPolicy
	clock     clock.Clock
	wrap      []messaging.Middleware

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	consumed     observability.Counter   // messages_consumed_total{topic,result}
}

func NewWorker(
	consumer messaging.Consumer,
	useCase application.UseCase[*courtesy.Request, *courtesy.Outcome],
	publisher OutcomePublisher,
	policy AckPolicy,
	clk clock.Clock,
	tel observability.Observability,
) *Worker {
	logger, tracer, metrics := observability.Resolve(tel)
	if clk == nil {
		clk = clock.NewSystem()
	}
	if policy == "" {
		policy = AckForwardProgress
	}
	return &Worker{
		consumer:     consumer,
		useCase:      useCase,
		publisher:    publisher,
		policy:       policy,
		clock:        clk,
		log:          logger.With(observability.F("service", workerService)),
		tracer:       tracer,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		consumed:     metrics.Counter(observability.MMessagesConsumed),
	}
}

// Use adds middleware around Handle for messages consumed by Run.
func (w *Worker) Use(mws ...messaging.Middleware) {
	w.wrap = append(w.wrap, mws...)
}

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.consumer == nil {
		return errors.New("dispatch: worker has no consumer")
	}
	return w.consumer.Run(ctx, messaging.Chain(w.Handle, w.wrap...))
}

// Handle processes one request message. It returns messaging.ErrRedeliver
// only under AckStrictRedelivery, after an uncaught failure.
func (w *Worker) Handle(ctx context.Context, msg messaging.Message) (err error) {
	start := w.clock.Now()
	req, decodeErr := courtesy.DecodeRequest(msg.Value)
	requestID := CorrelationID(req, msg.Offset, start)

	ctx, logger := logctx.Enrich(ctx, w.log,
		observability.F("use_case", useCaseConsume),
		observability.F("request_id", requestID),
		observability.F("partition", msg.Partition),
		observability.F("offset", msg.Offset),
	)
	ctx, span := w.tracer.Start(ctx, spanPrefix+"ConsumeRequest",
		attribute.String("use_case", useCaseConsume),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.partition", msg.Partition),
		attribute.Int64("messaging.offset", msg.Offset),
		attribute.String("request.id", requestID),
	)

	result := consumedHandled
	defer func() {
		latency := w.clock.Now().Sub(start).Seconds()
		outcome := "success"
		if result != consumedHandled {
			outcome = result
		}
		w.reqCounter.Add(1,
			observability.L("use_case", useCaseConsume),
			observability.L("outcome", outcome),
		)
		w.durHistogram.Observe(latency, observability.L("use_case", useCaseConsume))
		w.consumed.Add(1,
			observability.L("topic", msg.Topic),
			observability.L("result", result),
		)
		if result == consumedFailed || result == consumedWithheld {
			span.SetStatus(codes.Error, result)
		} else {
			span.SetStatus(codes.Ok, result)
		}
		span.End()
		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("latency_seconds", latency),
			observability.F("acked", msg.Ack.Released()),
		)
	}()

	invalid, failure := w.process(ctx, msg, req, decodeErr, requestID, start)
	if failure == nil {
		if invalid {
			result = consumedInvalid
		}
		w.ack(ctx, msg)
		return nil
	}

	span.RecordError(failure)
	logger.Error("request_processing_failed", observability.F("error", failure))
	internal := courtesy.Failed(req, courtesy.StatusInternalError, msgInternal, failure.Error(), start).
		WithCorrelation(requestID, w.clock.Now().Sub(start))
	if pubErr := w.publisher.Publish(ctx, internal); pubErr != nil {
		logger.Warn("internal_error_outcome_not_published", observability.F("error", pubErr))
	}

	if w.policy == AckStrictRedelivery {
		result = consumedWithheld
		logger.Warn("request_ack_withheld", observability.F("policy", string(w.policy)))
		return messaging.ErrRedeliver
	}
	result = consumedFailed
	w.ack(ctx, msg)
	return nil
}

// process validates, executes and publishes. Panics come back as failures.
func (w *Worker) process(ctx context.Context, msg messaging.Message, req *courtesy.Request, decodeErr error, requestID string, start time.Time) (invalid bool, failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = fmt.Errorf("dispatch: panic handling request: %v", r)
			logctx.FromOr(ctx, w.log).Error("request_handler_panic",
				observability.F("panic", fmt.Sprint(r)),
				observability.F("stack", string(debug.Stack())),
			)
		}
	}()

	verr := decodeErr
	if verr == nil {
		verr = courtesy.Validate(req)
	}
	if verr != nil {
		logctx.FromOr(ctx, w.log).Warn("request_rejected",
			observability.F("reason", verr.Error()),
			observability.F("key", string(msg.Key)),
		)
		o := courtesy.Failed(req, courtesy.StatusValidationError, msgInvalid, verr.Error(), start).
			WithCorrelation(requestID, w.clock.Now().Sub(start))
		return true, w.publisher.Publish(ctx, o)
	}

	outcome, execErr := w.useCase.Execute(ctx, req)
	if outcome == nil {
		if execErr == nil {
			execErr = errNoOutcome
		}
		return false, execErr
	}
	if execErr != nil {
		logctx.FromOr(ctx, w.log).Warn("use_case_reported_error", observability.F("error", execErr))
	}
	return false, w.publisher.Publish(ctx, outcome.WithCorrelation(requestID, w.clock.Now().Sub(start)))
}

func (w *Worker) ack(ctx context.Context, msg messaging.Message) {
	if err := msg.Ack.Release(ctx); err != nil {
		logctx.FromOr(ctx, w.log).Error("request_ack_failed",
			observability.F("partition", msg.Partition),
			observability.F("offset", msg.Offset),
			observability.F("error", err),
		)
	}
}
