package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

var tracer = otel.Tracer("jx3-market/nats-publisher")

// Publisher publishes JSON events and propagates the trace context in headers.
type Publisher struct {
	conn   *nats.Conn
	logger *logger.Logger
}

func NewPublisher(conn *nats.Conn, log *logger.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("NATS connection cannot be nil")
	}
	return &Publisher{conn: conn, logger: log.Named("nats.publisher")}, nil
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	ctx, span := tracer.Start(ctx, "NATS.Publish "+subject)
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal message for subject %s: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header = make(nats.Header)
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Error("Failed to publish message", zap.String("subject", subject), zap.Error(err))
		span.RecordError(err)
		return fmt.Errorf("failed to publish message to subject %s: %w", subject, err)
	}

	p.logger.Debug("Message published", zap.String("subject", subject), zap.Int("size_bytes", len(data)))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil || p.conn.IsClosed() {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Error("Failed to drain NATS connection", zap.Error(err))
		p.conn.Close()
	}
}

type headerCarrier nats.Header

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (c headerCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c headerCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
