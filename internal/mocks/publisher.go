package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"globetales-service/internal/models"
)

// PublisherMock stands in for the AMQP/Kafka event publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

// ExpectMessageEvent expects one domain event on routingKey that satisfies match.
func (m *PublisherMock) ExpectMessageEvent(routingKey string, match func(models.MessageEvent) bool) *mock.Call {
	return m.On("Publish", mock.Anything, routingKey, mock.MatchedBy(func(e models.MessageEvent) bool {
		return e.EventType == routingKey && match(e)
	})).Once()
}
