package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCounter struct {
	labels []string
}

func (c *countingCounter) Add(_ float64, labels ...observability.Label) {
	for _, l := range labels {
		c.labels = append(c.labels, l.Value)
	}
}

func TestHandleAcksValidAndInvalidOutcomes(t *testing.T) {
	t.Parallel()

	counter := &countingCounter{}
	w := New(nil, nil)
	w.observed = counter

	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	o := courtesy.Succeeded(nil, "ok", at).WithCorrelation("REQ_1", 2*time.Second)
	value, err := o.Encode()
	require.NoError(t, err)

	var acks atomic.Int32
	ack := func() *messaging.Ack {
		return messaging.NewAck(func(context.Context) error { acks.Add(1); return nil })
	}

	good := messaging.Message{Topic: "cortesia-processada", Value: value, Headers: courtesy.NewOutcomeHeaders(o, at).Headers(), Ack: ack()}
	bad := messaging.Message{Topic: "cortesia-processada", Value: []byte("{}"), Ack: ack()}

	require.NoError(t, w.Handle(context.Background(), good))
	require.NoError(t, w.Handle(context.Background(), bad))

	assert.Equal(t, int32(2), acks.Load())
	assert.Equal(t, []string{"SUCCESS", "UNPARSEABLE"}, counter.labels)
}
