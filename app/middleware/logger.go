package middleware

import (
	"net/http"
	"time"

	"github.com/aluccaroni/majordodo/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Logger middleware logs each request with latency and status. Requests
// answered with 404 are not logged.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		if c.Writer.Status() == http.StatusNotFound {
			return
		}

		logger.Infof("%s %s -> %d (%v)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(startTime),
		)
	}
}
