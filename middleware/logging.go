package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatflow/signaling/utils"
)

// Logger logs one line per request. Polling endpoints are logged at debug
// level only; at a 2s drain period they would drown everything else.
func Logger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		args := []interface{}{
			"client", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		}

		if isPolling(c.Request.URL.Path) {
			logger.Debug("request", args...)
			return
		}
		logger.Info("request", args...)
	}
}

func isPolling(path string) bool {
	return strings.HasSuffix(path, "/signal/poll") || strings.HasSuffix(path, "/presence/heartbeat")
}
