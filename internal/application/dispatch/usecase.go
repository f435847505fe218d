package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/clock"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dispatchService  = "courtesy-dispatch"
	useCaseProcess   = "dispatch.process"
	processSpanName  = "ProcessRequest"
	spanPrefix       = "UC."
	peerInventory    = "inventory"
	peerRenderer     = "renderer"
	peerMail         = "mail"
	endpointList     = "tickets.list"
	endpointUpdate   = "tickets.update"
	endpointReserve  = "tickets.reserve"
	endpointRender   = "artifact.render"
	endpointDelivery = "artifact.deliver"
)

const (
	msgInsufficient   = "Cortesias insuficientes. Solicitadas: %d, Disponíveis: %d"
	msgSuccess        = "%d cortesias geradas com sucesso! Enviadas para: %s"
	msgInternal       = "Erro interno do sistema"
	msgListFailed     = "Erro ao consultar cortesias disponíveis"
	msgIssueFailed    = "Erro ao emitir cortesias"
	msgRenderFailed   = "Erro ao gerar relatório de cortesias"
	msgDeliveryFailed = "Erro ao enviar email com as cortesias"
	msgCancelled      = "Processamento cancelado antes de iniciar"
	notePartialIssue  = "%d de %d cortesias foram emitidas antes da falha"
	noteStillIssued   = "%d cortesias permanecem emitidas sem entrega"
)

var errNilRequest = errors.New("dispatch: nil request")

// ProcessConfig holds the fixed values stamped on issued tickets.
type ProcessConfig struct {
	IssuerUserID int64
}

// ProcessUseCase reserves, renders and delivers the tickets of one validated request.
type ProcessUseCase struct {
	gateway  ticket.Gateway
	renderer Renderer
	mailer   Mailer
	clock    clock.Clock
	cfg      ProcessConfig

	log           observability.Logger
	tracer        observability.Tracer
	reqCounter    observability.Counter
	durHistogram  observability.Histogram
	extCounter    observability.Counter
	extHistogram  observability.Histogram
	issuedCounter observability.Counter
}

func NewProcessUseCase(
	gateway ticket.Gateway,
	renderer Renderer,
	mailer Mailer,
	cfg ProcessConfig,
	clk clock.Clock,
	tel observability.Observability,
) *ProcessUseCase {
	logger, tracer, metrics := observability.Resolve(tel)
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ProcessUseCase{
		gateway:       gateway,
		renderer:      renderer,
		mailer:        mailer,
		clock:         clk,
		cfg:           cfg,
		log:           logger.With(observability.F("service", dispatchService)),
		tracer:        tracer,
		reqCounter:    metrics.Counter(observability.MUsecaseRequests),
		durHistogram:  metrics.Histogram(observability.MUsecaseDuration),
		extCounter:    metrics.Counter(observability.MExternalRequests),
		extHistogram:  metrics.Histogram(observability.MExternalRequestDuration),
		issuedCounter: metrics.Counter(observability.MTicketsIssued),
	}
}

// Execute always returns an outcome. The error is non-nil only when the
// outcome is INTERNAL_ERROR.
func (uc *ProcessUseCase) Execute(ctx context.Context, req *courtesy.Request) (_ *courtesy.Outcome, err error) {
	start := uc.clock.Now()
	if req == nil {
		return courtesy.Failed(nil, courtesy.StatusInternalError, msgInternal, errNilRequest.Error(), start), errNilRequest
	}

	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseProcess),
		observability.F("place", req.Place),
		observability.F("quantity", req.Quantity),
		observability.F("format", req.Format),
	)
	ctx, span := uc.tracer.Start(ctx, spanPrefix+processSpanName,
		attribute.String("use_case", useCaseProcess),
		attribute.String("request.place", req.Place),
		attribute.Int("request.quantity", req.Quantity),
		attribute.String("request.format", req.Format),
	)

	var (
		out        *courtesy.Outcome
		failure    error
		statusText = "OK"
		issued     []ticket.Ticket
	)

	defer func() {
		latency := uc.clock.Now().Sub(start).Seconds()
		outcome := "success"
		if out != nil && !out.Success {
			outcome = strings.ToLower(string(out.Status))
		}
		if span != nil {
			if failure != nil {
				span.RecordError(failure)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseProcess),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency, observability.L("use_case", useCaseProcess))
		if len(issued) > 0 {
			uc.issuedCounter.Add(float64(len(issued)), observability.L("place", req.Place))
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("issued", len(issued)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if failure != nil {
			fields = append(fields, observability.F("error", failure.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	finish := func(o *courtesy.Outcome) *courtesy.Outcome {
		out = o.WithDuration(uc.clock.Now().Sub(start))
		return out
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		statusText, failure = "CANCELLED", ctxErr
		return finish(courtesy.Failed(req, courtesy.StatusCancelled, msgCancelled, ctxErr.Error(), start)), nil
	}

	available, listErr := uc.listSold(ctx, req)
	if listErr != nil {
		statusText, failure = "LIST_FAILED", listErr
		err = fmt.Errorf("dispatch: list tickets: %w", listErr)
		return finish(courtesy.Failed(req, courtesy.StatusInternalError, msgListFailed, listErr.Error(), start)), err
	}
	if len(available) < req.Quantity {
		statusText = "INSUFFICIENT"
		msg := fmt.Sprintf(msgInsufficient, req.Quantity, len(available))
		return finish(courtesy.Failed(req, courtesy.StatusAvailabilityError, msg, "", start)), nil
	}

	selected := make([]ticket.Ticket, req.Quantity)
	copy(selected, available[:req.Quantity])
	for i := range selected {
		selected[i].PrintValidity = req.PrintValidity.String()
	}
	span.AddEvent("tickets.selected", trace.WithAttributes(attribute.Int("count", len(selected))))

	stamp := ticket.IssueStamp{
		IssuerUserID:  uc.cfg.IssuerUserID,
		IssuedAt:      uc.clock.Now(),
		Email:         req.Email,
		RequesterName: req.Requester,
		Destination:   req.Destination,
	}
	var issueErr error
	issued, issueErr = uc.issue(ctx, logger, selected, stamp, req.PrintValidity.String())
	if issueErr != nil {
		statusText, failure = "ISSUE_FAILED", issueErr
		err = fmt.Errorf("dispatch: issue tickets: %w", issueErr)
		o := courtesy.Failed(req, courtesy.StatusInternalError, msgIssueFailed, issueErr.Error(), start).
			WithNotes(fmt.Sprintf(notePartialIssue, len(issued), req.Quantity))
		return finish(o), err
	}

	format := req.ResolvedFormat()
	artifact, renderErr := uc.render(ctx, issued, format)
	if renderErr != nil {
		statusText, failure = "RENDER_FAILED", renderErr
		o := courtesy.Failed(req, courtesy.StatusRenderError, msgRenderFailed, renderErr.Error(), start).
			WithNotes(fmt.Sprintf(noteStillIssued, len(issued)))
		return finish(o), nil
	}

	email := composeEmail(req, artifact, uc.clock.Now())
	if deliverErr := uc.deliver(ctx, email); deliverErr != nil {
		statusText, failure = "DELIVERY_FAILED", deliverErr
		o := courtesy.Failed(req, courtesy.StatusDeliveryError, msgDeliveryFailed, deliverErr.Error(), start).
			WithArtifact(artifact.Size(), artifact.Pages).
			WithNotes(fmt.Sprintf(noteStillIssued, len(issued)))
		return finish(o), nil
	}

	o := courtesy.Succeeded(req, fmt.Sprintf(msgSuccess, len(issued), req.Email), start).
		WithArtifact(artifact.Size(), artifact.Pages).
		WithNotes(email.Filename)
	return finish(o), nil
}

func (uc *ProcessUseCase) listSold(ctx context.Context, req *courtesy.Request) ([]ticket.Ticket, error) {
	var tickets []ticket.Ticket
	err := uc.external(peerInventory, endpointList, func() error {
		var listErr error
		tickets, listErr = uc.gateway.ListByStatusAndPlace(ctx, ticket.StatusSold, req.Place, req.Quantity)
		return listErr
	})
	return tickets, err
}

// issue moves the selected tickets to issued. Stores implementing
// ticket.BatchReserver do it atomically; otherwise tickets are updated one by
// one and the ones updated before a failure stay issued and are returned.
func (uc *ProcessUseCase) issue(ctx context.Context, logger observability.Logger, selected []ticket.Ticket, stamp ticket.IssueStamp, printValidity string) ([]ticket.Ticket, error) {
	if reserver, ok := uc.gateway.(ticket.BatchReserver); ok {
		ids := make([]int64, len(selected))
		for i, t := range selected {
			ids[i] = t.ID
		}
		var res ticket.BatchResult
		err := uc.external(peerInventory, endpointReserve, func() error {
			var reserveErr error
			res, reserveErr = reserver.Reserve(ctx, ids, stamp, printValidity)
			return reserveErr
		})
		if err != nil {
			return nil, err
		}
		if len(res.Issued) != len(ids) {
			return nil, fmt.Errorf("batch reserve returned %d of %d tickets", len(res.Issued), len(ids))
		}
		return res.Issued, nil
	}

	issued := make([]ticket.Ticket, 0, len(selected))
	for _, t := range selected {
		if err := t.Issue(stamp); err != nil {
			logger.Error("ticket_issue_rejected",
				observability.F("ticket_id", t.ID),
				observability.F("issued_before_failure", len(issued)),
				observability.F("error", err),
			)
			return issued, err
		}
		var updated ticket.Ticket
		err := uc.external(peerInventory, endpointUpdate, func() error {
			var updateErr error
			updated, updateErr = uc.gateway.Update(ctx, t)
			return updateErr
		})
		if err != nil {
			logger.Error("ticket_update_failed",
				observability.F("ticket_id", t.ID),
				observability.F("issued_before_failure", len(issued)),
				observability.F("error", err),
			)
			return issued, fmt.Errorf("update ticket %d: %w", t.ID, err)
		}
		issued = append(issued, updated)
	}
	return issued, nil
}

func (uc *ProcessUseCase) render(ctx context.Context, tickets []ticket.Ticket, format courtesy.Format) (courtesy.Artifact, error) {
	var artifact courtesy.Artifact
	err := uc.external(peerRenderer, endpointRender, func() error {
		var renderErr error
		artifact, renderErr = uc.renderer.Render(ctx, tickets, format)
		return renderErr
	})
	return artifact, err
}

func (uc *ProcessUseCase) deliver(ctx context.Context, email Email) error {
	return uc.external(peerMail, endpointDelivery, func() error {
		return uc.mailer.Send(ctx, email)
	})
}

func (uc *ProcessUseCase) external(peer, endpoint string, call func() error) error {
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
