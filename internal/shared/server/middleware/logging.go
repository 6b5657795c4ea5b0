package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contract-backend/internal/shared/metrics"
)

// Logging emits one structured access log line per request.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		metrics.IncHTTPRequests()

		fields := []zap.Field{
			zap.String("request_id", RequestIDFromContext(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Float64("latency_ms", float64(latency.Microseconds())/1000.0),
			zap.String("client_ip", c.ClientIP()),
		}
		if accountID := AccountIDFromContext(c); accountID != "" {
			fields = append(fields, zap.String("account_id", accountID))
		}
		if jobID := c.GetString("jobId"); jobID != "" {
			fields = append(fields, zap.String("job_id", jobID))
		}
		log.Info("http.request", fields...)
	}
}
