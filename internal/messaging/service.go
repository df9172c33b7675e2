// Package messaging implements direct messages between travellers: sending,
// reading a conversation, listing conversations and read receipts.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"globetales-service/internal/apperr"
	"globetales-service/internal/conversations"
	"globetales-service/internal/models"
	"globetales-service/internal/observability"
	"globetales-service/internal/repositories"
)

const (
	RoutingMessageSent = "message.sent"
	RoutingMessageRead = "message.read"

	DefaultMaxLength = 2000
	DefaultPageMax   = 200
)

// Notifier pushes realtime events to connected clients. Delivery is best effort.
type Notifier interface {
	NotifyMessage(view models.MessageView, userIDs ...string)
	NotifyRead(senderID, readerID string, count int64)
}

// EventPublisher forwards domain events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type Config struct {
	MaxLength int
	PageMax   int
}

type Service struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	notifier Notifier
	events   EventPublisher
	policy   *bluemonday.Policy
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	maxLength int
	pageMax   int
}

// NewService wires a Service. notifier and events may be nil.
func NewService(messages repositories.MessageRepository, users repositories.UserRepository, notifier Notifier, events EventPublisher, logger *zap.Logger, cfg Config) *Service {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.PageMax <= 0 {
		cfg.PageMax = DefaultPageMax
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		messages:  messages,
		users:     users,
		notifier:  notifier,
		events:    events,
		policy:    bluemonday.StrictPolicy(),
		logger:    logger,
		tracer:    otel.Tracer("globetales-service/messaging"),
		now:       time.Now,
		maxLength: cfg.MaxLength,
		pageMax:   cfg.PageMax,
	}
}

// Send stores a message from senderID to receiverID. Content is stored as
// sent after trimming; clients escape it when rendering. Content with no
// visible text once markup is stripped is rejected.
func (s *Service) Send(ctx context.Context, senderID, receiverID, content string) (models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.Send", trace.WithAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("receiver_id", receiverID),
	))
	defer span.End()

	receiverID = strings.TrimSpace(receiverID)
	content = strings.TrimSpace(content)
	if receiverID == "" || !s.visible(content) {
		return models.Message{}, apperr.Validation("Receiver and content are required")
	}
	if receiverID == senderID {
		return models.Message{}, apperr.Validation("You cannot send a message to yourself")
	}
	if n := utf8.RuneCountInString(content); n > s.maxLength {
		return models.Message{}, apperr.Validation(fmt.Sprintf("Message is too long (%d characters, max %d)", n, s.maxLength))
	}

	profiles, err := s.profiles(ctx, senderID, receiverID)
	if err != nil {
		return models.Message{}, s.fail(span, "failed to load receiver", err)
	}
	if _, ok := profiles[receiverID]; !ok {
		return models.Message{}, apperr.NotFound("Receiver not found")
	}

	msg, err := s.messages.CreateMessage(ctx, models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		IsRead:     false,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return models.Message{}, s.fail(span, "failed to send message", err)
	}
	observability.IncMessagesSent()
	span.SetAttributes(attribute.String("message_id", msg.ID))

	s.notifier.NotifyMessage(view(msg, profiles), msg.ReceiverID, msg.SenderID)
	s.publish(ctx, RoutingMessageSent, models.MessageEvent{
		EventType:  RoutingMessageSent,
		OccurredAt: msg.CreatedAt.Format(time.RFC3339Nano),
		Message:    &msg,
	})
	return msg, nil
}

// List returns the conversation between userID and counterpartID, oldest
// first, with both participants expanded.
func (s *Service) List(ctx context.Context, userID, counterpartID string, opts repositories.ListOptions) ([]models.MessageView, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.List", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("counterpart_id", counterpartID),
	))
	defer span.End()

	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, apperr.Validation("userId is required")
	}
	if opts.Limit < 0 {
		return nil, apperr.Validation("limit must not be negative")
	}
	if opts.Limit > s.pageMax {
		opts.Limit = s.pageMax
	}
	if !opts.Before.IsZero() && !opts.Paged() {
		opts.Limit = s.pageMax
	}

	msgs, err := s.messages.ListBetween(ctx, userID, counterpartID, opts)
	if err != nil {
		return nil, s.fail(span, "failed to load messages", err)
	}

	profiles, err := s.profiles(ctx, userID, counterpartID)
	if err != nil {
		return nil, s.fail(span, "failed to load participants", err)
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, view(m, profiles))
	}
	span.SetAttributes(attribute.Int("message_count", len(views)))
	return views, nil
}

// ListConversations returns one row per counterpart of userID, most recent
// exchange first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.ListConversations", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()

	msgs, err := s.messages.ListInvolving(ctx, userID)
	if err != nil {
		return nil, s.fail(span, "failed to load conversations", err)
	}

	threads := conversations.Aggregate(userID, msgs)
	if len(threads) == 0 {
		return []models.Conversation{}, nil
	}

	users, err := s.users.BulkUsers(ctx, conversations.CounterpartIDs(threads))
	if err != nil {
		return nil, s.fail(span, "failed to load conversation users", err)
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	convs := conversations.Expand(threads, byID)
	if dropped := len(threads) - len(convs); dropped > 0 {
		s.logger.Debug("conversations without counterpart profile skipped",
			zap.String("user_id", userID), zap.Int("dropped", dropped))
	}
	span.SetAttributes(attribute.Int("conversation_count", len(convs)))
	return convs, nil
}

// MarkRead flags every unread message from senderID to readerID as read and
// returns how many changed.
func (s *Service) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.MarkRead", trace.WithAttributes(
		attribute.String("reader_id", readerID),
		attribute.String("sender_id", senderID),
	))
	defer span.End()

	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return 0, apperr.Validation("userId is required")
	}

	updated, err := s.messages.MarkRead(ctx, readerID, senderID)
	if err != nil {
		return 0, s.fail(span, "failed to mark messages as read", err)
	}
	span.SetAttributes(attribute.Int64("updated", updated))
	if updated == 0 {
		return 0, nil
	}
	observability.AddMessagesRead(updated)

	s.notifier.NotifyRead(senderID, readerID, updated)
	s.publish(ctx, RoutingMessageRead, models.MessageEvent{
		EventType:  RoutingMessageRead,
		OccurredAt: s.now().UTC().Format(time.RFC3339Nano),
		ReaderID:   readerID,
		SenderID:   senderID,
		Count:      updated,
	})
	return updated, nil
}

// visible reports whether content still has text once markup is stripped.
func (s *Service) visible(content string) bool {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(content))) != ""
}

func (s *Service) profiles(ctx context.Context, ids ...string) (map[string]models.User, error) {
	users, err := s.users.BulkUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, routingKey string, event models.MessageEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, routingKey, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

// fail maps store errors onto the public error taxonomy.
func (s *Service) fail(span trace.Span, msg string, err error) error {
	if errors.Is(err, repositories.ErrInvalidID) {
		return apperr.Validation("Invalid user id")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return apperr.Internal(msg, err)
}

func view(m models.Message, profiles map[string]models.User) models.MessageView {
	return models.MessageView{
		ID:        m.ID,
		Sender:    summary(m.SenderID, profiles),
		Receiver:  summary(m.ReceiverID, profiles),
		Content:   m.Content,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
}

func summary(id string, profiles map[string]models.User) models.UserSummary {
	if u, ok := profiles[id]; ok {
		return u.Summary()
	}
	return models.UserSummary{ID: id}
}

type nopNotifier struct{}

func (nopNotifier) NotifyMessage(models.MessageView, ...string) {}
func (nopNotifier) NotifyRead(string, string, int64)            {}
