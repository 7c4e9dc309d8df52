package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"liveattend/internal/attendance"
)

type joinRequest struct {
	SessionID       string    `json:"session_id" binding:"required"`
	ParticipantName string    `json:"participant_name" binding:"required"`
	StudentID       string    `json:"student_id"`
	JoinedAt        time.Time `json:"joined_at"`
}

type leaveRequest struct {
	SessionID       string    `json:"session_id" binding:"required"`
	ParticipantName string    `json:"participant_name" binding:"required"`
	LeftAt          time.Time `json:"left_at"`
}

type linkRequest struct {
	SessionID       string `json:"session_id" binding:"required"`
	ParticipantName string `json:"participant_name" binding:"required"`
	StudentID       string `json:"student_id"`
	CreateStudent   bool   `json:"create_student"`
}

func attendanceStart(req startSessionRequest) attendance.StartRequest {
	return attendance.StartRequest{
		ClassID:     req.ClassID,
		MeetingLink: req.MeetingLink,
		StartedAt:   req.StartedAt,
		Title:       req.Title,
	}
}

func (h *Handler) recordJoin(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.RecordJoin(c.Request.Context(), callerFrom(c), attendance.JoinRequest{
		SessionID:       req.SessionID,
		ParticipantName: req.ParticipantName,
		StudentID:       req.StudentID,
		JoinedAt:        req.JoinedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) recordLeave(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.RecordLeave(c.Request.Context(), callerFrom(c), attendance.LeaveRequest{
		SessionID:       req.SessionID,
		ParticipantName: req.ParticipantName,
		LeftAt:          req.LeftAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) linkParticipant(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.LinkParticipant(c.Request.Context(), callerFrom(c), attendance.LinkRequest{
		SessionID:       req.SessionID,
		ParticipantName: req.ParticipantName,
		StudentID:       req.StudentID,
		CreateStudent:   req.CreateStudent,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) sessionAttendance(c *gin.Context) {
	report, err := h.svc.SessionAttendance(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) currentlyPresent(c *gin.Context) {
	present, err := h.svc.CurrentlyPresent(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": present, "count": len(present)})
}

// totalDuration answers by student_id when given, else by participant_name.
func (h *Handler) totalDuration(c *gin.Context) {
	var (
		d   attendance.Duration
		err error
	)
	if studentID := c.Query("student_id"); studentID != "" {
		d, err = h.svc.TotalDurationForStudent(c.Request.Context(), callerFrom(c), c.Param("id"), studentID)
	} else {
		d, err = h.svc.TotalDuration(c.Request.Context(), callerFrom(c), c.Param("id"), c.Query("participant_name"))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
