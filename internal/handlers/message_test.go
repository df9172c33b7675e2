package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"globetales-service/internal/apperr"
	"globetales-service/internal/messaging"
	"globetales-service/internal/mocks"
	"globetales-service/internal/models"
	"globetales-service/internal/repositories"
	"globetales-service/internal/telemetry"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.POST("/messages/send", handler.Send)
	r.GET("/messages/conversations", handler.ListConversations)
	r.GET("/messages/:userId", handler.GetMessages)
	r.PUT("/messages/read/:userId", handler.MarkRead)
	return r
}

func newMessageHandler(messageRepo *mocks.MessageRepositoryMock, userRepo *mocks.UserRepositoryMock, publisher *mocks.PublisherMock) *MessageHandler {
	service := messaging.NewService(messageRepo, userRepo, nil, nil, zap.NewNop(), messaging.Config{MaxLength: 100, PageMax: 50})
	var emitter *telemetry.AuditEmitter
	if publisher != nil {
		emitter = telemetry.NewAuditEmitter(publisher, zap.NewNop(), "globetales-messaging", "test")
	}
	return NewMessageHandler(service, emitter, zap.NewNop())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperr.Response {
	t.Helper()
	var body apperr.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

var (
	alice = models.User{ID: "u1", Username: "alice", ProfilePicture: "a.png"}
	bob   = models.User{ID: "u2", Username: "bob", ProfilePicture: "b.png"}
	t0    = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func TestSendMessageSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	userRepo.On("BulkUsers", mock.Anything, []string{"u1", "u2"}).Return([]models.User{alice, bob}, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.SenderID == "u1" && m.ReceiverID == "u2" && m.Content == "Hi" && !m.IsRead
	})).Return(models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "Hi", CreatedAt: t0}, nil).Once()

	body := bytes.NewBufferString(`{"receiverId":"u2","content":"  Hi  "}`)
	req := httptest.NewRequest(http.MethodPost, "/messages/send", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Message string         `json:"message"`
		Data    models.Message `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Message sent successfully!", resp.Message)
	assert.Equal(t, "m1", resp.Data.ID)
	assert.Equal(t, "u1", resp.Data.SenderID)

	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestSendMessageIgnoresSenderInBody(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	userRepo.On("BulkUsers", mock.Anything, []string{"u1", "u2"}).Return([]models.User{alice, bob}, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.SenderID == "u1"
	})).Return(models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "Hi"}, nil).Once()

	body := bytes.NewBufferString(`{"senderId":"u9","sender":"u9","receiverId":"u2","content":"Hi"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/send", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestSendMessageValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty content", `{"receiverId":"u2","content":"   "}`},
		{"missing receiver", `{"content":"hi"}`},
		{"malformed json", `{"receiverId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messageRepo := new(mocks.MessageRepositoryMock)
			router := setupMessageRouter(newMessageHandler(messageRepo, new(mocks.UserRepositoryMock), nil))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewBufferString(tt.body)))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, "Receiver and content are required", body.Message)
			assert.Equal(t, http.StatusBadRequest, body.StatusCode)
			messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestSendMessageUnknownReceiver(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	userRepo.On("BulkUsers", mock.Anything, []string{"u1", "ghost"}).Return([]models.User{alice}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewBufferString(`{"receiverId":"ghost","content":"hi"}`)))

	require.Equal(t, http.StatusNotFound, rec.Code)
	messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendMessageRepoErrorIsAudited(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	publisher := new(mocks.PublisherMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, publisher))

	userRepo.On("BulkUsers", mock.Anything, []string{"u1", "u2"}).Return([]models.User{alice, bob}, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()
	publisher.On("Publish", mock.Anything, telemetry.AuditRoutingKey, mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.Payload.Level == "ERROR" && e.UserID == "u1"
	})).Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/send", bytes.NewBufferString(`{"receiverId":"u2","content":"hi"}`)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "failed to send message", body.Message)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	publisher.AssertExpectations(t)
}

func TestGetMessagesSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	messageRepo.On("ListBetween", mock.Anything, "u1", "u2", repositories.ListOptions{}).Return([]models.Message{
		{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "Hi", IsRead: true, CreatedAt: t0},
		{ID: "m2", SenderID: "u2", ReceiverID: "u1", Content: "Hey", CreatedAt: t0.Add(time.Minute)},
	}, nil).Once()
	userRepo.On("BulkUsers", mock.Anything, []string{"u1", "u2"}).Return([]models.User{alice, bob}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.MessageView `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "Hi", resp.Messages[0].Content)
	assert.Equal(t, models.UserSummary{ID: "u2", Username: "bob", ProfilePicture: "b.png"}, resp.Messages[1].Sender)

	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestGetMessagesPaging(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	before := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	messageRepo.On("ListBetween", mock.Anything, "u1", "u2", repositories.ListOptions{Before: before, Limit: 50}).Return([]models.Message{}, nil).Once()
	userRepo.On("BulkUsers", mock.Anything, []string{"u1", "u2"}).Return([]models.User{alice, bob}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u2?before=2024-05-02T00:00:00Z&limit=500", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
	messageRepo.AssertExpectations(t)
}

func TestGetMessagesBadQuery(t *testing.T) {
	router := setupMessageRouter(newMessageHandler(new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock), nil))

	for _, query := range []string{"?before=yesterday", "?limit=0", "?limit=abc"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u2"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestListConversationsSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	messageRepo.On("ListInvolving", mock.Anything, "u1").Return([]models.Message{
		{ID: "m2", SenderID: "u2", ReceiverID: "u1", Content: "Hey", CreatedAt: t0.Add(time.Minute)},
		{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "Hi", CreatedAt: t0},
	}, nil).Once()
	userRepo.On("BulkUsers", mock.Anything, []string{"u2"}).Return([]models.User{bob}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/conversations", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "bob", resp.Conversations[0].User.Username)
	assert.Equal(t, "Hey", resp.Conversations[0].LastMessage.Content)

	messageRepo.AssertExpectations(t)
	messageRepo.AssertNotCalled(t, "ListBetween", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListConversationsEmpty(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, userRepo, nil))

	messageRepo.On("ListInvolving", mock.Anything, "u1").Return([]models.Message{}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/conversations", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversations":[]}`, rec.Body.String())
	userRepo.AssertNotCalled(t, "BulkUsers", mock.Anything, mock.Anything)
}

func TestMarkReadSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, new(mocks.UserRepositoryMock), nil))

	messageRepo.On("MarkRead", mock.Anything, "u1", "u2").Return(int64(3), nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/read/u2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Messages marked as read","updated":3}`, rec.Body.String())
	messageRepo.AssertExpectations(t)
}

func TestMarkReadRepoError(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(messageRepo, new(mocks.UserRepositoryMock), nil))

	messageRepo.On("MarkRead", mock.Anything, "u1", "u2").Return(int64(0), assert.AnError).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/read/u2", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decodeError(t, rec).Success)
}
