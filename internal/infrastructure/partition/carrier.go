package partition

import (
	"context"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier adapts message headers to the otel text map carrier.
type headerCarrier struct {
	headers *[]messaging.Header
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, messaging.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// InjectTrace returns headers extended with the trace context of ctx. The
// input slice is not modified.
func InjectTrace(ctx context.Context, headers []messaging.Header) []messaging.Header {
	out := append([]messaging.Header(nil), headers...)
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &out})
	return out
}

// ExtractTrace returns ctx carrying the remote span context found in headers.
func ExtractTrace(ctx context.Context, headers []messaging.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &headers})
}
