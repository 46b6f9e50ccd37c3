// ABOUTME: gin middleware: request ids, access logging and request metrics
// ABOUTME: The request id is taken from X-Request-ID when present and echoed back

package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nainya/modelregistry/internal/logger"
	"github.com/nainya/modelregistry/internal/metrics"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID assigns every request an id
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog logs one line per request and feeds the request metrics. m may
// be nil.
func AccessLog(log *logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		log.LogHTTPRequest(GetRequestID(c), c.Request.Method, route, status, elapsed, err)
		if m != nil {
			m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)
		}
	}
}
