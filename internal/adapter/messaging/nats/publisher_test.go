package nats

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	header := make(nats.Header)
	propagation.TraceContext{}.Inject(ctx, headerCarrier(header))
	require.NotEmpty(t, header.Get("traceparent"))

	extracted := propagation.TraceContext{}.Extract(context.Background(), headerCarrier(header))
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
	assert.NotEmpty(t, headerCarrier(header).Keys())
}

func TestNewPublisher_RequiresConnection(t *testing.T) {
	_, err := NewPublisher(nil, logger.NewNop())
	assert.Error(t, err)
}
