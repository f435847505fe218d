package partition

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestGroupKeepsPartitionOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[int][]int64{}
	var wg sync.WaitGroup
	wg.Add(20)
	h := func(_ context.Context, msg messaging.Message) error {
		defer wg.Done()
		if msg.Offset%3 == 0 {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		seen[msg.Partition] = append(seen[msg.Partition], msg.Offset)
		mu.Unlock()
		return nil
	}

	g := NewGroup(context.Background(), "requests", h, Config{QueueSize: 4}, nil)
	for i := int64(0); i < 10; i++ {
		for p := 0; p < 2; p++ {
			require.NoError(t, g.Dispatch(context.Background(), messaging.Message{Partition: p, Offset: i}))
		}
	}
	wg.Wait()
	require.True(t, g.Shutdown(time.Second))

	for p := 0; p < 2; p++ {
		assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen[p])
	}
}

func TestBlockedPartitionDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	other := make(chan int64, 1)
	h := func(_ context.Context, msg messaging.Message) error {
		if msg.Partition == 0 {
			<-release
			return nil
		}
		other <- msg.Offset
		return nil
	}

	g := NewGroup(context.Background(), "requests", h, Config{QueueSize: 2}, nil)
	for i := int64(0); i < 4; i++ {
		require.NoError(t, g.Dispatch(context.Background(), messaging.Message{Partition: 0, Offset: i}))
	}
	require.NoError(t, g.Dispatch(context.Background(), messaging.Message{Partition: 1, Offset: 7}))

	select {
	case off := <-other:
		assert.Equal(t, int64(7), off)
	case <-time.After(time.Second):
		t.Fatal("partition 1 waited on partition 0")
	}
	close(release)
	assert.True(t, g.Shutdown(time.Second))
}

func TestWorkerStopDropsBacklog(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var handled atomic.Int32
	h := func(context.Context, messaging.Message) error {
		if handled.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}

	w := NewWorker("requests", 0, h, Config{QueueSize: 1}, nil)
	w.Start(context.Background())
	for i := int64(0); i < 3; i++ {
		require.NoError(t, w.Enqueue(context.Background(), messaging.Message{Offset: i}))
	}
	<-started
	assert.Equal(t, 2, w.Backlog())

	w.Stop()
	close(release)
	<-w.Done()
	assert.Equal(t, int32(1), handled.Load())
	assert.ErrorIs(t, w.Enqueue(context.Background(), messaging.Message{}), ErrStopped)
}

func TestWorkerRedeliversUntilHandled(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	handled := make(chan struct{})
	h := func(context.Context, messaging.Message) error {
		if attempts.Add(1) < 3 {
			return messaging.ErrRedeliver
		}
		close(handled)
		return nil
	}

	w := NewWorker("requests", 0, h, Config{RedeliveryInitial: time.Millisecond, RedeliveryMax: 2 * time.Millisecond}, nil)
	w.Start(context.Background())
	require.NoError(t, w.Enqueue(context.Background(), messaging.Message{Offset: 1}))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int32(3), attempts.Load())
	w.Stop()
	<-w.Done()
}

func TestWorkerSurvivesPanic(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	done := make(chan struct{})
	h := func(_ context.Context, msg messaging.Message) error {
		if msg.Offset == 0 {
			panic("boom")
		}
		handled.Add(1)
		close(done)
		return nil
	}

	w := NewWorker("requests", 0, h, Config{}, nil)
	w.Start(context.Background())
	require.NoError(t, w.Enqueue(context.Background(), messaging.Message{Offset: 0}))
	require.NoError(t, w.Enqueue(context.Background(), messaging.Message{Offset: 1}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after panic")
	}
	assert.Equal(t, int32(1), handled.Load())
	w.Stop()
}

func TestHandlerContextOutlivesRunContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	result := make(chan error, 1)
	h := func(hctx context.Context, _ messaging.Message) error {
		<-release
		result <- hctx.Err()
		return nil
	}

	g := NewGroup(ctx, "requests", h, Config{}, nil)
	require.NoError(t, g.Dispatch(ctx, messaging.Message{}))
	cancel()
	close(release)

	assert.NoError(t, <-result)
	assert.True(t, g.Shutdown(time.Second))
	assert.ErrorIs(t, g.Dispatch(context.Background(), messaging.Message{}), ErrStopped)
}

func TestTraceRoundTripThroughHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	base := []messaging.Header{{Key: "schemaVersion", Value: []byte("1")}}
	headers := InjectTrace(ctx, base)
	require.Len(t, base, 1)
	require.Len(t, headers, 2)

	got := trace.SpanContextFromContext(ExtractTrace(context.Background(), headers))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}
