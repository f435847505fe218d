package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProducer() *Producer {
	return NewProducer(ProducerConfig{Brokers: []string{"127.0.0.1:9"}, ClientID: "test"}, nil)
}

func TestCompletionResolvesMatchingDelivery(t *testing.T) {
	t.Parallel()

	p := newTestProducer()
	first := make(chan messaging.Delivery, 1)
	second := make(chan messaging.Delivery, 1)
	p.pending["id-1"] = first
	p.pending["id-2"] = second
	p.inflight.Add(2)

	p.complete([]kafkago.Message{
		{Topic: "cortesia-processada", Partition: 2, Offset: 41, Headers: []kafkago.Header{{Key: deliveryHeader, Value: []byte("id-1")}}},
		{Topic: "cortesia-processada", Partition: 0, Offset: 7, Headers: []kafkago.Header{{Key: deliveryHeader, Value: []byte("id-2")}}},
	}, nil)

	d := <-first
	require.NoError(t, d.Err)
	assert.Equal(t, 2, d.Partition)
	assert.Equal(t, int64(41), d.Offset)
	assert.Equal(t, int64(7), (<-second).Offset)
	require.NoError(t, p.Flush(context.Background()))
}

func TestCompletionWrapsBatchError(t *testing.T) {
	t.Parallel()

	p := newTestProducer()
	ch := make(chan messaging.Delivery, 1)
	p.pending["id"] = ch
	p.inflight.Add(1)

	cause := errors.New("Request Timed Out: timeout")
	p.complete([]kafkago.Message{{Topic: "cortesia-erro", Headers: []kafkago.Header{{Key: deliveryHeader, Value: []byte("id")}}}}, cause)

	d := <-ch
	require.ErrorIs(t, d.Err, cause)
	_, open := <-ch
	assert.False(t, open)
}

func TestCloseFailsPendingAndRejectsSends(t *testing.T) {
	t.Parallel()

	p := newTestProducer()
	ch := make(chan messaging.Delivery, 1)
	p.pending["id"] = ch
	p.inflight.Add(1)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, (<-ch).Err, messaging.ErrClosed)
	assert.False(t, p.Healthy())

	_, err := p.Send(context.Background(), messaging.Record{Topic: "x"})
	assert.ErrorIs(t, err, messaging.ErrClosed)
}

func TestHeadersDropDeliveryID(t *testing.T) {
	t.Parallel()

	in := []messaging.Header{{Key: "schemaVersion", Value: []byte("1")}, {Key: deliveryHeader, Value: []byte("x")}}
	out := fromKafkaHeaders(toKafkaHeaders(in))
	require.Len(t, out, 1)
	assert.Equal(t, "schemaVersion", out[0].Key)
}

func TestToMessageCarriesCoordinates(t *testing.T) {
	t.Parallel()

	m := kafkago.Message{Topic: "cortesia-para-emitir", Partition: 3, Offset: 12, Key: []byte("k"), Value: []byte("{}")}
	msg := toMessage(nil, m)
	assert.Equal(t, 3, msg.Partition)
	assert.Equal(t, int64(12), msg.Offset)
	assert.NotNil(t, msg.Ack)
	assert.False(t, msg.Ack.Released())
}
