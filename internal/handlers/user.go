package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"globetales-service/internal/messaging"
)

// UserHandler exposes the read side of the user directory.
type UserHandler struct {
	directory *messaging.Directory
	logger    *zap.Logger
}

func NewUserHandler(directory *messaging.Directory, logger *zap.Logger) *UserHandler {
	return &UserHandler{directory: directory, logger: logger}
}

// Search finds users whose username or email contains ?query.
func (h *UserHandler) Search(c *gin.Context) {
	users, err := h.directory.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		respondError(c, h.logger, nil, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":   users,
		"message": "Users found successfully",
	})
}

// Profile returns the public profile of :userId.
func (h *UserHandler) Profile(c *gin.Context) {
	user, err := h.directory.Profile(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, nil, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
