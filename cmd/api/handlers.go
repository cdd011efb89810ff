package main

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/audit"
	"qrattendance/internal/auth"
	"qrattendance/internal/session"
	"qrattendance/internal/user"
)

// userStore is the slice of the user layer the handlers touch.
type userStore interface {
	BindDevice(ctx context.Context, userID, deviceID string) error
	ResetDevice(ctx context.Context, userID string) error
}

// auditReader serves the teacher-facing audit inspection route.
type auditReader interface {
	RecentByUser(ctx context.Context, userID string, limit int) ([]audit.Event, error)
}

type handlers struct {
	sessions   *session.Service
	attendance *attendance.Service
	users      userStore
	auditLogs  auditReader
	recorder   *audit.Recorder
}

func (h *handlers) createSession(c *gin.Context) {
	// Zero is a legitimate coordinate, so latitude/longitude carry no
	// required tag.
	var req struct {
		CourseID  string  `json:"course_id" binding:"required"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Radius    float64 `json:"radius" binding:"required,gt=0"`
		Duration  int     `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.FromContext(c)
	sess, err := h.sessions.Create(c.Request.Context(), req.CourseID, claims.UserID, session.CreateParams{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Radius:    req.Radius,
		Duration:  req.Duration,
		IP:        c.ClientIP(),
	})
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"qr_token":   sess.QR.SessionToken,
		"expires_at": sess.QR.ExpiresAt,
	})
}

func (h *handlers) refreshQR(c *gin.Context) {
	qr, err := h.sessions.Refresh(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr_token": qr.SessionToken, "expires_at": qr.ExpiresAt})
}

func (h *handlers) invalidateQR(c *gin.Context) {
	if err := h.sessions.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "QR invalidated"})
}

func (h *handlers) getQR(c *gin.Context) {
	info, err := h.sessions.QR(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) attendees(c *gin.Context) {
	list, err := h.attendance.Attendees(c.Request.Context(), c.Param("id"))
	if err != nil {
		rejectOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendees": list})
}

func (h *handlers) sessionsByCourse(c *gin.Context) {
	list, err := h.sessions.ByCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *handlers) mark(c *gin.Context) {
	var req struct {
		SessionID string  `json:"session_id" binding:"required"`
		QRToken   string  `json:"qr_token" binding:"required"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.FromContext(c)
	rec, err := h.attendance.Mark(c.Request.Context(), attendance.MarkRequest{
		SessionID: req.SessionID,
		QRToken:   req.QRToken,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		StudentID: claims.UserID,
		DeviceID:  claims.DeviceID,
		IP:        c.ClientIP(),
	})
	if err != nil {
		rejectOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Attendance marked successfully", "attendance_id": rec.ID})
}

func (h *handlers) manualMark(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Email     string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.FromContext(c)
	rec, err := h.attendance.ManualMark(c.Request.Context(), claims.UserID, req.SessionID, req.Email, c.ClientIP())
	if err != nil {
		rejectOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Student marked present manually", "attendance_id": rec.ID})
}

func (h *handlers) bulkMark(c *gin.Context) {
	var req struct {
		SessionID  string   `json:"session_id" binding:"required"`
		StudentIDs []string `json:"student_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.FromContext(c)
	count, err := h.attendance.BulkMark(c.Request.Context(), claims.UserID, req.SessionID, req.StudentIDs, c.ClientIP())
	if err != nil {
		rejectOrInternal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_count": count})
}

func (h *handlers) history(c *gin.Context) {
	claims := auth.FromContext(c)
	history, err := h.attendance.History(c.Request.Context(), claims.UserID)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *handlers) courseTimeline(c *gin.Context) {
	history, err := h.attendance.CourseTimeline(c.Request.Context(), c.Param("courseId"), c.Param("studentId"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *handlers) bindDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.FromContext(c)
	if err := h.users.BindDevice(c.Request.Context(), claims.UserID, req.DeviceID); err != nil {
		if errors.Is(err, user.ErrDeviceBound) {
			c.JSON(http.StatusConflict, gin.H{"error": "device already bound; ask your teacher for a reset"})
			return
		}
		internalError(c, err)
		return
	}
	h.recorder.Record(c.Request.Context(), audit.Event{
		UserID:     claims.UserID,
		Action:     audit.ActionDeviceRegistered,
		EntityType: "device",
		EntityID:   req.DeviceID,
		Details:    map[string]any{"device_id": req.DeviceID},
		IPAddress:  c.ClientIP(),
	})
	c.JSON(http.StatusOK, gin.H{"message": "device bound"})
}

func (h *handlers) auditTrail(c *gin.Context) {
	events, err := h.auditLogs.RecentByUser(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *handlers) resetDevice(c *gin.Context) {
	if err := h.users.ResetDevice(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device binding cleared"})
}

// rejectOrInternal maps pipeline rejections to their HTTP status and
// everything else to an opaque 500.
func rejectOrInternal(c *gin.Context, err error) {
	var rej *attendance.Reject
	if !errors.As(err, &rej) {
		internalError(c, err)
		return
	}
	body := gin.H{"error": rej.Code}
	if rej.Code == attendance.CodeOutsideRadius {
		body["distance"] = math.Round(rej.Distance)
	}
	c.JSON(rejectStatus(rej.Code), body)
}

func rejectStatus(code string) int {
	switch code {
	case attendance.CodeSessionNotFound, attendance.CodeCourseNotFound, attendance.CodeStudentNotFound:
		return http.StatusNotFound
	case attendance.CodeNotEnrolled, attendance.CodeDeviceMismatch, attendance.CodeOutsideRadius:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func internalError(c *gin.Context, err error) {
	log.Printf("internal error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
