package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type startSessionRequest struct {
	ClassID     string    `json:"class_id" binding:"required"`
	MeetingLink string    `json:"meeting_link" binding:"required"`
	StartedAt   time.Time `json:"started_at"`
	Title       string    `json:"title"`
}

type endSessionRequest struct {
	SessionID string    `json:"session_id" binding:"required"`
	EndedAt   time.Time `json:"ended_at"`
}

type scheduleSessionRequest struct {
	ClassID     string `json:"class_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	MeetingLink string `json:"meeting_link"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.StartFromMeeting(c.Request.Context(), callerFrom(c), attendanceStart(req))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (h *Handler) endSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.EndWithTimestamp(c.Request.Context(), callerFrom(c), req.SessionID, req.EndedAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) endSessionManual(c *gin.Context) {
	sess, err := h.svc.EndManual(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) scheduleSession(c *gin.Context) {
	var req scheduleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.Schedule(c.Request.Context(), callerFrom(c), req.ClassID, req.Title, req.MeetingLink)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (h *Handler) activateSession(c *gin.Context) {
	sess, err := h.svc.Activate(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
