// Package attendance runs the scan validation pipeline and the teacher
// override paths, and owns attendance records.
package attendance

import (
	"fmt"
	"time"
)

// Rejection reason codes, in pipeline order.
const (
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeCourseNotFound  = "COURSE_NOT_FOUND"
	CodeNotEnrolled     = "NOT_ENROLLED"
	CodeSessionInactive = "SESSION_INACTIVE"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeDeviceMismatch  = "DEVICE_MISMATCH"
	CodeOutsideRadius   = "OUTSIDE_RADIUS"
	CodeAlreadyMarked   = "ALREADY_MARKED"
	CodeStudentNotFound = "STUDENT_NOT_FOUND"
)

// Sentinel device ids stamped on override records in place of real
// device/location evidence.
const (
	DeviceManualOverride = "MANUAL_OVERRIDE"
	DeviceManualBulk     = "MANUAL_BULK"
	TokenManual          = "MANUAL"
)

// Reject is an expected, user-facing pipeline outcome. Distance is set
// only for OUTSIDE_RADIUS so the client can tell the student how far
// off they were.
type Reject struct {
	Code     string
	Distance float64
}

func (r *Reject) Error() string {
	if r.Code == CodeOutsideRadius {
		return fmt.Sprintf("%s (%.0fm)", r.Code, r.Distance)
	}
	return r.Code
}

// DeviceEvidence records which device submitted the scan.
type DeviceEvidence struct {
	DeviceID      string `json:"device_id"`
	IsValidDevice bool   `json:"is_valid_device"`
}

// LocationEvidence records where the student stood and how far from
// the session's geofence center that was.
type LocationEvidence struct {
	StudentLatitude  float64 `json:"student_latitude"`
	StudentLongitude float64 `json:"student_longitude"`
	Distance         float64 `json:"distance"`
	IsWithinRadius   bool    `json:"is_within_radius"`
}

// QREvidence records which token the scan presented.
type QREvidence struct {
	SessionToken string `json:"session_token"`
	IsValid      bool   `json:"is_valid"`
}

// Record is one marked attendance. Only "present" is ever stored;
// absences are derived from sessions with no record. The validation
// evidence makes each record auditable after the session's QR state
// has rotated away.
type Record struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	CourseID  string           `json:"course_id"`
	StudentID string           `json:"student_id"`
	Status    string           `json:"status"`
	Device    DeviceEvidence   `json:"device_validation"`
	Location  LocationEvidence `json:"location_validation"`
	QR        QREvidence       `json:"qr_validation"`
	MarkedAt  time.Time        `json:"marked_at"`
}

// StatusPresent is the only status the pipeline writes.
const StatusPresent = "present"
