package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"globetales-service/internal/telemetry"
)

// ConnectionCounter reports live websocket connections per user.
type ConnectionCounter interface {
	Connections(userID string) int
}

// DebugOptions carries what the debug endpoints inspect. Nil fields answer 503.
type DebugOptions struct {
	Emitter       *telemetry.AuditEmitter
	Connections   ConnectionCounter
	PublisherMode string
}

// RegisterDebugRoutes wires debug-only endpoints when enabled.
func RegisterDebugRoutes(router gin.IRoutes, opts DebugOptions, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if opts.Emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		opts.Emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/ws/:userId", func(c *gin.Context) {
		if opts.Connections == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket hub not configured"})
			return
		}
		userID := c.Param("userId")
		c.JSON(http.StatusOK, gin.H{"userId": userID, "connections": opts.Connections.Connections(userID)})
	})

	router.GET("/debug/events", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"publisher": opts.PublisherMode})
	})
}
