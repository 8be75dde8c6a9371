package gateway

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 1 << 20

var callerRequestID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RequestIDMiddleware tags each request with an ID. A well-formed ID sent
// by the caller is kept; anything else is replaced with a fresh one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if !callerRequestID.MatchString(requestID) {
			// "req_a1b2c3d4"
			requestID = "req_" + uuid.New().String()[:8]
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// LoggingMiddleware logs request start and end. The completion line carries
// the route key and the model named in the X-Model response header.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString(RequestIDKey)

		log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      c.Param("route"),
			"event":      "started",
		}).Info("Request started")

		c.Next()

		entry := log.WithFields(log.Fields{
			"request_id": requestID,
			"status":     c.Writer.Status(),
			"route":      c.Param("route"),
			"model":      c.Writer.Header().Get(ModelHeader),
			"bytes":      c.Writer.Size(),
			"latency_ms": time.Since(start).Milliseconds(),
			"event":      "completed",
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Warn("Request failed")
		case c.Request.Context().Err() != nil:
			entry.Info("Request completed after client disconnect")
		default:
			entry.Info("Request completed")
		}
	}
}

// BodyLimitMiddleware caps the request body size
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
