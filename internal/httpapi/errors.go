package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"liveattend/internal/attendance"
	"liveattend/internal/logging"
)

func statusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindPermissionDenied:
		return http.StatusForbidden
	case attendance.KindInvalidState:
		return http.StatusConflict
	case attendance.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "kind", "field"}. Internal details are
// logged and never returned.
func writeError(c *gin.Context, err error) {
	kind := attendance.KindOf(err)
	body := gin.H{"error": err.Error(), "kind": kind}
	var e *attendance.Error
	if errors.As(err, &e) && e.Field != "" {
		body["field"] = e.Field
	}
	if kind == attendance.KindInternal {
		logger := logging.FromContext(c.Request.Context())
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", "error", err)
		body = gin.H{"error": "internal error", "kind": kind}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(kind), body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": "invalid request body: " + err.Error(),
		"kind":  attendance.KindInvalidArgument,
	})
}
