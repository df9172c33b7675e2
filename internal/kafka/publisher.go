package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"globetales-service/internal/models"
	"globetales-service/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events to a single topic. The routing key travels as a
// header so consumers can filter like an AMQP topic binding.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are empty")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	p := &Publisher{topic: topic, logger: logger}
	p.writer = newWriter(brokers, topic, p.completed)
	logger.Info("kafka publisher ready", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return p, nil
}

// newWriter builds an async writer: WriteMessages only enqueues, so a send
// request never waits on the broker. Delivery failures reach completion.
func newWriter(brokers []string, topic string, completion func([]kafkago.Message, error)) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		Completion:             completion,
	}
}

func (p *Publisher) completed(msgs []kafkago.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		observability.IncPublishError("kafka")
		p.logger.Warn("kafka delivery failed", zap.String("routing_key", routingKeyOf(m)), zap.Error(err))
	}
}

func routingKeyOf(m kafkago.Message) string {
	for _, h := range m.Headers {
		if h.Key == "routing_key" {
			return string(h.Value)
		}
	}
	return ""
}

// Mode names the transport for startup logging.
func (p *Publisher) Mode() string { return "kafka" }

func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(partitionKey(routingKey, event)),
		Value: body,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "routing_key", Value: []byte(routingKey)},
			{Key: "content_type", Value: []byte("application/json")},
		},
	}
	if envelope, ok := event.(observability.EventEnvelope); ok {
		for k, v := range envelope.Headers {
			msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
		}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.IncPublishError("kafka")
		p.logger.Warn("kafka publish failed", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// partitionKey keeps the events of one conversation on one partition.
func partitionKey(routingKey string, event any) string {
	switch e := event.(type) {
	case models.MessageEvent:
		if e.Message != nil {
			return pairKey(e.Message.SenderID, e.Message.ReceiverID)
		}
		if e.SenderID != "" || e.ReaderID != "" {
			return pairKey(e.SenderID, e.ReaderID)
		}
	case *models.MessageEvent:
		if e != nil {
			return partitionKey(routingKey, *e)
		}
	}
	return routingKey
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
