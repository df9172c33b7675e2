package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"globetales-service/internal/models"
	"globetales-service/internal/rabbitmq"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewPublisherRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewPublisher(nil, "t", zap.NewNop())
	require.Error(t, err)

	_, err = NewPublisher([]string{"localhost:9092"}, "", zap.NewNop())
	require.Error(t, err)
}

func TestPublishWritesJSONWithRoutingHeader(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topic: "globetales.messages", logger: zap.NewNop()}

	event := models.MessageEvent{
		EventType: "message.sent",
		Message:   &models.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Content: "Hi"},
	}
	require.NoError(t, p.Publish(context.Background(), "message.sent", event))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "u1:u2", string(msg.Key))
	assert.Equal(t, "routing_key", msg.Headers[0].Key)
	assert.Equal(t, "message.sent", string(msg.Headers[0].Value))

	var decoded models.MessageEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "m1", decoded.Message.ID)
}

func TestPublishReturnsWriterError(t *testing.T) {
	w := &fakeWriter{err: assert.AnError}
	p := &Publisher{writer: w, topic: "t", logger: zap.NewNop()}

	err := p.Publish(context.Background(), "message.read", models.MessageEvent{EventType: "message.read", ReaderID: "u1", SenderID: "u2"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPartitionKeyIsOrderIndependent(t *testing.T) {
	sent := models.MessageEvent{Message: &models.Message{SenderID: "a", ReceiverID: "b"}}
	read := models.MessageEvent{ReaderID: "a", SenderID: "b"}

	assert.Equal(t, partitionKey("x", sent), partitionKey("y", read))
	assert.Equal(t, "audit", partitionKey("audit", struct{}{}))
}

func TestCloseClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, logger: zap.NewNop()}

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisherModeIsReportedThroughRabbitHelper(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{}, topic: "t", logger: zap.NewNop()}
	assert.Equal(t, "kafka", rabbitmq.PublisherMode(p))
}

func TestNewPublisherUsesAsyncWriter(t *testing.T) {
	p, err := NewPublisher([]string{"localhost:9092"}, "globetales.messages", zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	w, ok := p.writer.(*kafkago.Writer)
	require.True(t, ok)
	assert.True(t, w.Async)
	assert.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
	assert.Positive(t, w.BatchTimeout)
	assert.NotNil(t, w.Completion)
	assert.Equal(t, "globetales.messages", w.Topic)
}

func TestCompletionLogsFailedDeliveries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := &Publisher{writer: &fakeWriter{}, topic: "t", logger: zap.New(core)}
	msgs := []kafkago.Message{{Headers: []kafkago.Header{{Key: "routing_key", Value: []byte("message.sent")}}}}

	p.completed(msgs, nil)
	assert.Zero(t, logs.Len())

	p.completed(msgs, assert.AnError)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kafka delivery failed", entry.Message)
	assert.Equal(t, "message.sent", entry.ContextMap()["routing_key"])
}
