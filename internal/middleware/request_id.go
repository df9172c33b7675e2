package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"globetales-service/internal/observability"
)

const RequestIDKey = "request_id"

// RequestID reuses the caller's X-Request-Id or generates one, and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(observability.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(observability.RequestIDHeader, id)
		c.Next()
	}
}
