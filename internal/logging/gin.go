package logging

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinMiddleware attaches a request-scoped logger to the request context and
// logs one line per completed request. Paths in skip are served silently.
func GinMiddleware(base *slog.Logger, skip ...string) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		logger := base.With(
			"request_id", requestID(c),
			"method", c.Request.Method,
			"path", path,
		)
		c.Request = c.Request.WithContext(ContextWithLogger(c.Request.Context(), logger))

		start := time.Now()
		c.Next()

		if _, ok := skipped[path]; ok {
			return
		}
		attrs := []any{
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request completed", attrs...)
		case c.Writer.Status() >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// requestID reuses an upstream X-Request-ID or mints a new one.
func requestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}
