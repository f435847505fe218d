package monitor

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
)

const workerService = "outcome_monitor"

// Worker observes published outcomes. It never fails a message.
type Worker struct {
	consumer messaging.Consumer
	wrap     []messaging.Middleware
	log      observability.Logger
	observed observability.Counter // outcomes_observed_total{status}
}

func New(consumer messaging.Consumer, tel observability.Observability) *Worker {
	logger, _, metrics := observability.Resolve(tel)
	return &Worker{
		consumer: consumer,
		log:      logger.With(observability.F("service", workerService)),
		observed: metrics.Counter(observability.MOutcomesObserved),
	}
}

func (w *Worker) Use(mws ...messaging.Middleware) {
	w.wrap = append(w.wrap, mws...)
}

func (w *Worker) Run(ctx context.Context) error {
	if w.consumer == nil {
		return errors.New("monitor: worker has no consumer")
	}
	return w.consumer.Run(ctx, messaging.Chain(w.Handle, w.wrap...))
}

func (w *Worker) Handle(ctx context.Context, msg messaging.Message) error {
	logger := logctx.FromOr(ctx, w.log)
	defer func() {
		if err := msg.Ack.Release(ctx); err != nil {
			logger.Warn("outcome_ack_failed", observability.F("offset", msg.Offset), observability.F("error", err))
		}
	}()

	headers, err := courtesy.ParseOutcomeHeaders(msg.Headers)
	if err != nil {
		w.observed.Add(1, observability.L("status", "UNPARSEABLE"))
		logger.Warn("outcome_headers_invalid",
			observability.F("topic", msg.Topic),
			observability.F("offset", msg.Offset),
			observability.F("error", err),
		)
		return nil
	}

	fields := []observability.Field{
		observability.F("request_id", headers.RequestID),
		observability.F("status", headers.Status),
		observability.F("success", headers.Success),
		observability.F("topic", msg.Topic),
	}
	if o, decodeErr := courtesy.DecodeOutcome(msg.Value); decodeErr == nil {
		fields = append(fields,
			observability.F("duration_ms", o.DurationMs),
			observability.F("message", o.Message),
		)
	}
	w.observed.Add(1, observability.L("status", headers.Status))
	logger.Info("outcome_observed", fields...)
	return nil
}
