package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"globetales-service/internal/apperr"
	"globetales-service/internal/messaging"
	"globetales-service/internal/repositories"
	"globetales-service/internal/telemetry"
)

// MessageHandler manages direct message endpoints.
type MessageHandler struct {
	service *messaging.Service
	emitter *telemetry.AuditEmitter
	logger  *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(service *messaging.Service, emitter *telemetry.AuditEmitter, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{service: service, emitter: emitter, logger: logger}
}

type sendRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// Send stores a message from the authenticated user.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, h.emitter, apperr.Validation("Receiver and content are required"))
		return
	}

	msg, err := h.service.Send(c.Request.Context(), userIDFromContext(c), req.ReceiverID, req.Content)
	if err != nil {
		respondError(c, h.logger, h.emitter, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Message sent successfully!",
		"data":    msg,
	})
}

// GetMessages returns the conversation with :userId, oldest first.
// Optional ?before=<RFC3339>&limit=<n> selects the page preceding before.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		respondError(c, h.logger, h.emitter, err)
		return
	}

	msgs, err := h.service.List(c.Request.Context(), userIDFromContext(c), c.Param("userId"), opts)
	if err != nil {
		respondError(c, h.logger, h.emitter, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ListConversations returns one row per counterpart, most recent first.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	convs, err := h.service.ListConversations(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.logger, h.emitter, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// MarkRead flags messages from :userId to the caller as read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	updated, err := h.service.MarkRead(c.Request.Context(), userIDFromContext(c), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, h.emitter, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Messages marked as read",
		"updated": updated,
	})
}

func listOptions(c *gin.Context) (repositories.ListOptions, error) {
	var opts repositories.ListOptions
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return opts, apperr.Validation("before must be an RFC3339 timestamp")
		}
		opts.Before = before
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return opts, apperr.Validation("limit must be a positive integer")
		}
		opts.Limit = limit
	}
	return opts, nil
}
