package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/metrics"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

// RequestID adds a unique request ID to each request. A client supplied
// X-Request-ID is kept.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// Recovery converts panics into Internal envelopes
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("path", c.Request.URL.Path).Errorf("Panic recovered: %v", r)
				Error(c, types.New(types.ErrInternal, "internal error"))
			}
		}()
		c.Next()
	}
}

// CORS adds permissive CORS headers when enabled reports true. OPTIONS
// requests are answered with 200 and no body either way.
func CORS(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled == nil || enabled() {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// Logger logs each request and counts it
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		metrics.HTTPRequest(c.Request.Method, status)

		entry := logger.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"latency": time.Since(start).Round(time.Microsecond).String(),
		})
		if id := RequestIDOf(c); id != "" {
			entry = entry.WithField("request_id", id)
		}
		if status >= http.StatusInternalServerError {
			entry.Warn("HTTP request")
		} else {
			entry.Debug("HTTP request")
		}
	}
}
