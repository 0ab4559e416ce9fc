// Package api provides the response helpers and middleware shared by the
// gateway's HTTP handlers
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "requestId"

// maxBodyBytes bounds request bodies read by BindJSON
const maxBodyBytes = 4 << 20

// RequestIDOf returns the request ID set by the RequestID middleware
func RequestIDOf(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// Success writes v as a 200 JSON response
func Success(c *gin.Context, v interface{}) {
	c.JSON(http.StatusOK, v)
}

// Error writes the envelope for err with the status its kind maps to
func Error(c *gin.Context, err error) {
	env := types.NewEnvelope(err, RequestIDOf(c))
	status := env.Kind.HTTPStatusCode()

	entry := logger.WithField("path", c.Request.URL.Path).WithField("kind", env.Kind)
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
	} else {
		entry.Debugf("Request rejected: %s", env.Error)
	}

	c.AbortWithStatusJSON(status, env)
}

// BadRequest writes a MalformedRequest envelope
func BadRequest(c *gin.Context, format string, args ...interface{}) {
	Error(c, types.New(types.ErrMalformedRequest, format, args...))
}

// ReadBody returns the request body, bounded in size
func ReadBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, types.Wrap(types.ErrMalformedRequest, err, "Failed to read request body")
	}
	return body, nil
}

// BindJSON decodes the request body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func BindJSON(c *gin.Context, dst interface{}, allowEmpty bool) error {
	body, err := ReadBody(c)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return types.New(types.ErrMalformedRequest, "Request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return types.New(types.ErrMalformedRequest, "Invalid JSON body")
	}
	return nil
}
