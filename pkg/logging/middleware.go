package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in and out of the HTTP adapter.
const RequestIDHeader = "X-Request-ID"

// GinMiddleware logs every HTTP request and attaches a request id to the
// request context.
func GinMiddleware(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		reqLogger := logger.WithFields(
			String("request_id", requestID),
			String("method", c.Request.Method),
			String("path", c.Request.URL.Path),
		)
		reqLogger.Debug("HTTP request started")

		start := time.Now()
		c.Next()

		fields := []Field{
			Int("status", c.Writer.Status()),
			Duration("duration", time.Since(start)),
		}
		switch {
		case c.Writer.Status() >= 500:
			reqLogger.Error("HTTP request failed", fields...)
		case c.Writer.Status() >= 400:
			reqLogger.Warn("HTTP request rejected", fields...)
		default:
			reqLogger.Info("HTTP request completed", fields...)
		}
	}
}
