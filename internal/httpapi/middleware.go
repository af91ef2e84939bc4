package httpapi

import (
	"time"

	"supportloop/internal/logger"

	"github.com/gin-gonic/gin"
)

// RequestLoggingMiddleware logs one line per request.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		duration := time.Since(start).Milliseconds()
		if status >= 500 {
			logger.Log.Warnf("api_request method=%s path=%s status=%d duration_ms=%d errors=%q",
				c.Request.Method, path, status, duration, c.Errors.String())
			return
		}
		logger.Log.Infof("api_request method=%s path=%s status=%d duration_ms=%d",
			c.Request.Method, path, status, duration)
	}
}
