package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"globetales-service/internal/models"
	"globetales-service/internal/observability"
	"globetales-service/internal/telemetry"
)

// Publisher publishes domain and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is unavailable.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		return NewNoopPublisher(logger, "empty amqp url")
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return NewNoopPublisher(logger, err.Error())
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return NewNoopPublisher(logger, err.Error())
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return NewNoopPublisher(logger, err.Error())
	}

	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headersOf(event),
		Body:         body,
	})
	if err != nil {
		observability.IncPublishError("amqp")
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func headersOf(event any) amqp.Table {
	envelope, ok := event.(observability.EventEnvelope)
	if !ok || len(envelope.Headers) == 0 {
		return nil
	}
	table := amqp.Table{}
	for key, value := range envelope.Headers {
		table[key] = value
	}
	return table
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

// NewNoopPublisher returns a publisher that only logs what it would send.
func NewNoopPublisher(logger *zap.Logger, reason string) Publisher {
	logger.Warn("event publishing disabled, using noop", zap.String("reason", reason))
	return noopPublisher{reason: reason, logger: logger}
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	p.logger.Debug("noop publish", zap.String("routing_key", routingKey), zap.String("event", eventName(event)))
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

func eventName(event any) string {
	switch e := event.(type) {
	case observability.EventEnvelope:
		return e.EventName
	case models.MessageEvent:
		return e.EventType
	case telemetry.AuditEnvelope:
		return e.EventType
	default:
		return ""
	}
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch v := p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	case interface{ Mode() string }:
		return v.Mode()
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
