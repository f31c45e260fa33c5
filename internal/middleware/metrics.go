// internal/middleware/metrics.go
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SyedDaiam9101/ids-service/internal/metrics"
)

// Metrics records Prometheus histogram metrics for HTTP requests.
// It measures the duration of each request and records it with route,
// method and status code labels.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()

		// Use the route template so label cardinality stays bounded
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		code := strconv.Itoa(c.Writer.Status())

		metrics.RecordHTTPLatency(route, c.Request.Method, code, duration)
	}
}
