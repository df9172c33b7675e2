package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"globetales-service/internal/apperr"
	"globetales-service/internal/telemetry"
)

// respondError writes the error envelope. Internal errors are logged with
// their cause and audited; the caller only sees the public message.
func respondError(c *gin.Context, logger *zap.Logger, emitter *telemetry.AuditEmitter, err error) {
	resp := apperr.ResponseFor(err)
	if apperr.KindOf(err) == apperr.KindInternal {
		requestID := requestIDFromContext(c)
		logger.Error("request failed",
			zap.Error(err),
			zap.String("route", c.FullPath()),
			zap.String("request_id", requestID),
			zap.String("user_id", userIDFromContext(c)),
		)
		emitter.Emit(c.Request.Context(), "ERROR", c.Request.Method+" "+c.FullPath()+": "+resp.Message, requestID, userIDFromContext(c))
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(resp.StatusCode, resp)
}
