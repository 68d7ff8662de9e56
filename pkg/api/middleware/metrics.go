package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"shopfloor/pkg/metrics"
)

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip metrics endpoint to avoid self-scraping noise
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		path := normalizePath(c.FullPath())
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// normalizePath keeps metric labels bounded: the route template, not the
// raw path with embedded IDs.
func normalizePath(path string) string {
	if path == "" {
		return "unknown"
	}
	return path
}
