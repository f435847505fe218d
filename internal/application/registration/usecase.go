package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	registrationService = "registration_poller"
	useCasePoll         = "registration.poll"
	spanPrefix          = "UC."
	peerRegistrations   = "registrations"
	peerBroker          = "broker"
)

// PollConfig describes the request produced for every pending registration.
type PollConfig struct {
	Topic    string
	PageSize int
	// MaxRounds caps how many times the first page is re-read in one run.
	MaxRounds     int
	Quantity      int
	Place         string
	Destination   string
	PrintValidity courtesy.Date
	Format        string
	// SendTimeout bounds the wait for the broker before a registration is
	// left pending for the next run.
	SendTimeout time.Duration
}

type PollResult struct {
	Fetched   int
	Published int
	Failed    int
	Rounds    int
}

// PollUseCase turns pending registrations into courtesy requests.
type PollUseCase struct {
	source   Source
	producer messaging.Producer
	cfg      PollConfig

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewPollUseCase(source Source, producer messaging.Producer, cfg PollConfig, tel observability.Observability) *PollUseCase {
	logger, tracer, metrics := observability.Resolve(tel)
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	return &PollUseCase{
		source:       source,
		producer:     producer,
		cfg:          cfg,
		log:          logger.With(observability.F("service", registrationService)),
		tracer:       tracer,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute reads the first page of pending registrations until it comes back
// empty, MaxRounds is reached or a round completes nothing. A failing
// registration is logged and stays pending; it never stops the run. A
// registration is published at most once per run.
func (uc *PollUseCase) Execute(ctx context.Context, _ struct{}) (_ *PollResult, err error) {
	start := time.Now()
	ctx, logger := logctx.Enrich(ctx, uc.log, observability.F("use_case", useCasePoll))
	ctx, span := uc.tracer.Start(ctx, spanPrefix+"PollRegistrations",
		attribute.String("use_case", useCasePoll),
		attribute.Int("page_size", uc.cfg.PageSize),
	)

	res := &PollResult{}
	defer func() {
		latency := time.Since(start).Seconds()
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "POLL_FAILED")
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCasePoll),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency, observability.L("use_case", useCasePoll))
		if res.Fetched > 0 || err != nil {
			logger.Info("use_case_done",
				observability.F("outcome", outcome),
				observability.F("fetched", res.Fetched),
				observability.F("published", res.Published),
				observability.F("failed", res.Failed),
				observability.F("rounds", res.Rounds),
				observability.F("latency_seconds", latency),
			)
		}
	}()

	// A registration whose mark failed is still listed; its request already went out.
	published := make(map[int64]struct{})
	for res.Rounds < uc.cfg.MaxRounds {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var pending []Registration
		listErr := uc.external(peerRegistrations, "registrations.list_pending", func() error {
			var e error
			pending, e = uc.source.ListPending(ctx, uc.cfg.PageSize)
			return e
		})
		if listErr != nil {
			return res, fmt.Errorf("registration: list pending: %w", listErr)
		}
		res.Rounds++
		if len(pending) == 0 {
			return res, nil
		}
		res.Fetched += len(pending)

		progressed := false
		for _, r := range pending {
			if _, done := published[r.ID]; done {
				continue
			}
			sent, fwdErr := uc.forward(ctx, r)
			if sent {
				published[r.ID] = struct{}{}
				res.Published++
			}
			if fwdErr != nil {
				res.Failed++
				logger.Warn("registration_forward_failed",
					observability.F("registration_id", r.ID),
					observability.F("request_sent", sent),
					observability.F("error", fwdErr),
				)
				continue
			}
			progressed = true
		}
		if !progressed {
			logger.Warn("registration_round_without_progress", observability.F("pending", len(pending)))
			return res, nil
		}
	}
	return res, nil
}

// Request builds the courtesy request emitted for r.
func (uc *PollUseCase) Request(r Registration) *courtesy.Request {
	return &courtesy.Request{
		Place:         uc.cfg.Place,
		Quantity:      uc.cfg.Quantity,
		Email:         strings.TrimSpace(r.Email),
		Requester:     r.Name,
		Destination:   uc.cfg.Destination,
		PrintValidity: uc.cfg.PrintValidity,
		Format:        uc.cfg.Format,
	}
}

// forward publishes the request of r and marks r sent once the broker
// accepted it. sent reports whether the request reached the broker.
func (uc *PollUseCase) forward(ctx context.Context, r Registration) (sent bool, err error) {
	req := uc.Request(r)
	value, err := req.Encode()
	if err != nil {
		return false, fmt.Errorf("encode request: %w", err)
	}
	err = uc.external(peerBroker, "requests.send", func() error {
		return uc.send(ctx, messaging.Record{
			Topic: uc.cfg.Topic,
			Key:   []byte(req.PartitionKey()),
			Value: value,
		})
	})
	if err != nil {
		return false, err
	}
	logctx.FromOr(ctx, uc.log).Info("registration_request_sent",
		observability.F("registration_id", r.ID),
		observability.F("key", req.PartitionKey()),
	)
	err = uc.external(peerRegistrations, "registrations.mark_sent", func() error {
		r.CouponSent = true
		return uc.source.MarkSent(ctx, r)
	})
	if err != nil {
		return true, fmt.Errorf("mark sent: %w", err)
	}
	return true, nil
}

func (uc *PollUseCase) send(ctx context.Context, rec messaging.Record) error {
	deliveries, err := uc.producer.Send(ctx, rec)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	var timeout <-chan time.Time
	if uc.cfg.SendTimeout > 0 {
		timer := time.NewTimer(uc.cfg.SendTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case d, ok := <-deliveries:
		if !ok {
			return messaging.ErrClosed
		}
		if d.Err != nil {
			return fmt.Errorf("deliver request: %w", d.Err)
		}
		return nil
	case <-timeout:
		return errors.New("deliver request: broker acknowledgment timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (uc *PollUseCase) external(peer, endpoint string, call func() error) error {
	start := time.Now()
	err := call()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
	return err
}
