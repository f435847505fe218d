package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{"place":"Online","quantity":2,"email":"ana@example.com","requester":"Ana","destination":"Promo","printValidity":"2024-04-01","format":"pdf"}`

func requestMessage(payload string, acks *atomic.Int32) messaging.Message {
	return messaging.Message{
		Topic:     "cortesia-requests",
		Partition: 1,
		Offset:    42,
		Key:       []byte("ana@example.com"),
		Value:     []byte(payload),
		Ack: messaging.NewAck(func(context.Context) error {
			acks.Add(1)
			return nil
		}),
	}
}

type processFunc = application.UseCaseFunc[*courtesy.Request, *courtesy.Outcome]

func succeed(calls *atomic.Int32) processFunc {
	return func(_ context.Context, req *courtesy.Request) (*courtesy.Outcome, error) {
		calls.Add(1)
		return courtesy.Succeeded(req, "ok", testNow), nil
	}
}

func newTestWorker(uc application.UseCase[*courtesy.Request, *courtesy.Outcome], pub OutcomePublisher, policy AckPolicy) *Worker {
	return NewWorker(nil, uc, pub, policy, clock.NewManual(testNow), nil)
}

func TestWorkerPublishesAndAcksOnce(t *testing.T) {
	var acks, calls atomic.Int32
	pub := &recordingPublisher{}
	w := newTestWorker(succeed(&calls), pub, AckForwardProgress)
	msg := requestMessage(validPayload, &acks)

	require.NoError(t, w.Handle(context.Background(), msg))
	require.NoError(t, msg.Ack.Release(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), acks.Load())
	out := pub.last()
	require.NotNil(t, out)
	assert.True(t, out.Success)
	assert.True(t, strings.HasPrefix(out.RequestID, "REQ_"))
	assert.Contains(t, out.RequestID, "_ONLINE_2_42_")
}

func TestWorkerRejectsInvalidRequest(t *testing.T) {
	var acks, calls atomic.Int32
	pub := &recordingPublisher{}
	w := newTestWorker(succeed(&calls), pub, AckStrictRedelivery)

	payload := strings.Replace(validPayload, `"quantity":2`, `"quantity":0`, 1)
	require.NoError(t, w.Handle(context.Background(), requestMessage(payload, &acks)))

	assert.Zero(t, calls.Load())
	assert.Equal(t, int32(1), acks.Load())
	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, courtesy.StatusValidationError, out.Status)
	assert.Equal(t, "Dados da solicitação são inválidos", out.Message)
	assert.Contains(t, out.Error, "quantity")
}

func TestWorkerRejectsMalformedAndNullPayloads(t *testing.T) {
	for _, payload := range []string{`{"quantity":`, `null`} {
		var acks, calls atomic.Int32
		pub := &recordingPublisher{}
		w := newTestWorker(succeed(&calls), pub, AckForwardProgress)

		require.NoError(t, w.Handle(context.Background(), requestMessage(payload, &acks)))

		out := pub.last()
		require.NotNil(t, out, payload)
		assert.Equal(t, courtesy.StatusValidationError, out.Status, payload)
		assert.True(t, strings.HasPrefix(out.RequestID, "REQ_NULL_42_"), payload)
		assert.Zero(t, calls.Load())
		assert.Equal(t, int32(1), acks.Load())
	}
}

func TestWorkerPanicForwardProgress(t *testing.T) {
	var acks atomic.Int32
	pub := &recordingPublisher{}
	boom := processFunc(func(context.Context, *courtesy.Request) (*courtesy.Outcome, error) {
		panic("renderer exploded")
	})
	w := newTestWorker(boom, pub, AckForwardProgress)

	require.NoError(t, w.Handle(context.Background(), requestMessage(validPayload, &acks)))

	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, courtesy.StatusInternalError, out.Status)
	assert.Equal(t, "Erro interno do sistema", out.Message)
	assert.Contains(t, out.Error, "renderer exploded")
	assert.Equal(t, int32(1), acks.Load())
}

func TestWorkerStrictPolicyWithholdsAck(t *testing.T) {
	var acks atomic.Int32
	pub := &recordingPublisher{}
	boom := processFunc(func(context.Context, *courtesy.Request) (*courtesy.Outcome, error) {
		panic("renderer exploded")
	})
	w := newTestWorker(boom, pub, AckStrictRedelivery)
	msg := requestMessage(validPayload, &acks)

	err := w.Handle(context.Background(), msg)

	require.ErrorIs(t, err, messaging.ErrRedeliver)
	assert.Zero(t, acks.Load())
	assert.False(t, msg.Ack.Released())
	assert.Equal(t, courtesy.StatusInternalError, pub.last().Status)
}

func TestWorkerPublishFailureIsInternalError(t *testing.T) {
	var acks, calls atomic.Int32
	pub := &recordingPublisher{err: messaging.ErrClosed}
	w := newTestWorker(succeed(&calls), pub, AckForwardProgress)

	require.NoError(t, w.Handle(context.Background(), requestMessage(validPayload, &acks)))

	require.Len(t, pub.outcomes, 2)
	assert.True(t, pub.outcomes[0].Success)
	assert.Equal(t, courtesy.StatusInternalError, pub.outcomes[1].Status)
	assert.Equal(t, int32(1), acks.Load())
}

func TestWorkerPublishesUseCaseFailureOutcome(t *testing.T) {
	var acks atomic.Int32
	pub := &recordingPublisher{}
	partial := processFunc(func(_ context.Context, req *courtesy.Request) (*courtesy.Outcome, error) {
		return courtesy.Failed(req, courtesy.StatusInternalError, "Erro ao emitir cortesias", "conn reset", testNow), errors.New("conn reset")
	})
	w := newTestWorker(partial, pub, AckStrictRedelivery)

	require.NoError(t, w.Handle(context.Background(), requestMessage(validPayload, &acks)))

	require.Len(t, pub.outcomes, 1)
	assert.Equal(t, "Erro ao emitir cortesias", pub.outcomes[0].Message)
	assert.Equal(t, int32(1), acks.Load())
}

func TestCorrelationID(t *testing.T) {
	assert.Equal(t, "REQ_NULL_7_1710498600000", CorrelationID(nil, 7, testNow))

	id := CorrelationID(sampleRequest(), 42, testNow)
	assert.True(t, strings.HasPrefix(id, "REQ_"))
	assert.Contains(t, id, "_SÃOPAULO_5_42_")
	assert.True(t, strings.HasSuffix(id, "_0"), id)
}

func TestOutcomeKey(t *testing.T) {
	withEmail := courtesy.Succeeded(sampleRequest(), "ok", testNow)
	assert.Equal(t, OutcomeKey(withEmail, testNow), OutcomeKey(&courtesy.Outcome{Email: " ANA@example.com"}, testNow))
	assert.True(t, strings.HasPrefix(OutcomeKey(withEmail, testNow), "email_"))

	assert.Equal(t, "req_REQ_1", OutcomeKey(&courtesy.Outcome{RequestID: "REQ_1"}, testNow))
	assert.Equal(t, "unknown_0", OutcomeKey(nil, testNow))
}

func TestDeliveryFailureReachesFailureTopicKeyedByEmail(t *testing.T) {
	var acks atomic.Int32
	gateway := &fakeGateway{tickets: soldTickets(3, "Online")}
	mailer := &fakeMailer{err: errors.New("smtp: 554 mailbox unavailable")}
	process := NewProcessUseCase(gateway, &fakeRenderer{}, mailer, ProcessConfig{IssuerUserID: 7}, clock.NewManual(testNow), nil)
	producer := &fakeProducer{}
	pub := newTestPublisher(producer, &scheduler{})
	w := newTestWorker(process, pub, AckForwardProgress)

	require.NoError(t, w.Handle(context.Background(), requestMessage(validPayload, &acks)))
	require.NoError(t, pub.Flush(context.Background()))

	assert.Equal(t, int32(1), acks.Load())
	assert.Len(t, mailer.sent, 1)
	assert.Equal(t, 2, gateway.issuedCount())

	recs := producer.records()
	require.Len(t, recs, 1)
	assert.Equal(t, failureTopic, recs[0].Topic)
	key := string(recs[0].Key)
	assert.True(t, strings.HasPrefix(key, "email_"))
	assert.Equal(t, OutcomeKey(&courtesy.Outcome{Email: "ana@example.com"}, testNow), key)

	out, err := courtesy.DecodeOutcome(recs[0].Value)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, courtesy.StatusDeliveryError, out.Status)
	assert.Contains(t, out.Error, "mailbox unavailable")
	assert.True(t, strings.HasPrefix(out.RequestID, "REQ_"))

	headers, err := courtesy.ParseOutcomeHeaders(recs[0].Headers)
	require.NoError(t, err)
	assert.Equal(t, string(courtesy.StatusDeliveryError), headers.Status)
	assert.Equal(t, out.RequestID, headers.RequestID)
}
