package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yungbote/threadline-backend/internal/observability"
)

// Metrics records request counts and latency per route template. Event
// streams stay open for the life of a client, so they are counted once with
// status "stream" and left out of latency and in-flight; the SSE
// client gauge tracks them instead.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if isStreamRoute(route) {
			m.CountAPI(c.Request.Method, route, "stream")
			c.Next()
			return
		}

		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func isStreamRoute(route string) bool {
	return strings.HasSuffix(route, "/events")
}
