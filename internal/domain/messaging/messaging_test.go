package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckReleasesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	commitErr := errors.New("commit failed")
	ack := NewAck(func(context.Context) error {
		calls.Add(1)
		return commitErr
	})
	require.False(t, ack.Released())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.ErrorIs(t, ack.Release(context.Background()), commitErr)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.True(t, ack.Released())
}

func TestMessageHeader(t *testing.T) {
	t.Parallel()

	msg := Message{Headers: []Header{{Key: "requestId", Value: []byte("REQ_1")}}}
	v, ok := msg.Header("requestId")
	require.True(t, ok)
	require.Equal(t, "REQ_1", v)
	_, ok = msg.Header("missing")
	require.False(t, ok)
}

func TestResolvedYieldsOnceAndCloses(t *testing.T) {
	t.Parallel()

	ch := Resolved(Delivery{Topic: "t", Offset: 3})
	d, ok := <-ch
	require.True(t, ok)
	require.Equal(t, int64(3), d.Offset)
	_, ok = <-ch
	require.False(t, ok)
}

func TestChainRunsFirstMiddlewareOutermost(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg Message) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := Chain(func(context.Context, Message) error {
		order = append(order, "handler")
		return nil
	}, tag("outer"), nil, tag("inner"))

	require.NoError(t, h(context.Background(), Message{}))
	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}
