package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"liveattend/internal/attendance"
)

type appendRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	attendance.Entry
}

type bulkRequest struct {
	SessionID string            `json:"session_id" binding:"required"`
	Logs      []json.RawMessage `json:"logs"`
}

type relayRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) appendParticipation(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.svc.Append(c.Request.Context(), callerFrom(c), req.SessionID, req.Entry)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"log": entry})
}

// appendParticipationBulk answers 200 even when some items fail; the body
// carries the per-item outcome. Items are decoded one by one so a malformed
// item fails alone.
func (h *Handler) appendParticipationBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.AppendBulkJSON(c.Request.Context(), callerFrom(c), req.SessionID, req.Logs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listParticipation(c *gin.Context) {
	logs, err := h.svc.ListParticipation(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (h *Handler) relayEvent(c *gin.Context) {
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	name, err := h.svc.RelayEvent(c.Request.Context(), callerFrom(c), c.Param("id"), req.Event, req.Data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event": name})
}
