package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qrattendance/internal/audit"
	"qrattendance/internal/course"
	"qrattendance/internal/geo"
	"qrattendance/internal/session"
	"qrattendance/internal/user"
)

var marks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_marks_total",
	Help: "Mark attempts by outcome: accepted, manual, bulk, or a rejection code.",
}, []string{"outcome"})

// SessionStore is the slice of the session layer the pipeline reads.
type SessionStore interface {
	ByID(ctx context.Context, id string) (session.Session, error)
}

// CourseStore resolves courses and enrollment.
type CourseStore interface {
	ByID(ctx context.Context, id string) (course.Course, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

// UserStore resolves student identities and device bindings.
type UserStore interface {
	ByID(ctx context.Context, id string) (user.User, error)
	ByEmail(ctx context.Context, email string) (user.User, error)
}

// Store persists attendance records.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Exists(ctx context.Context, sessionID, studentID string) (bool, error)
	BySession(ctx context.Context, sessionID string) ([]Attendee, error)
	ByStudent(ctx context.Context, studentID string) ([]HistoryEntry, error)
	CourseTimeline(ctx context.Context, courseID, studentID string) ([]HistoryEntry, error)
}

// Service runs the scan validation pipeline.
type Service struct {
	records  Store
	sessions SessionStore
	courses  CourseStore
	users    UserStore
	audit    *audit.Recorder
	now      func() time.Time
}

// NewService wires the pipeline's collaborators.
func NewService(records Store, sessions SessionStore, courses CourseStore, users UserStore, recorder *audit.Recorder) *Service {
	return &Service{
		records:  records,
		sessions: sessions,
		courses:  courses,
		users:    users,
		audit:    recorder,
		now:      time.Now,
	}
}

// MarkRequest is one scan. StudentID and DeviceID come from the
// authenticated identity, never from the request body.
type MarkRequest struct {
	SessionID string
	QRToken   string
	Latitude  float64
	Longitude float64
	StudentID string
	DeviceID  string
	IP        string
}

// Mark validates a scan and records attendance. The gates run in a
// fixed order and short-circuit on the first failure; later gates rely
// on invariants the earlier ones established (the token checks read
// the session the existence gate loaded).
func (s *Service) Mark(ctx context.Context, req MarkRequest) (Record, error) {
	rec, err := s.mark(ctx, req)
	marks.WithLabelValues(outcome(err)).Inc()
	return rec, err
}

func (s *Service) mark(ctx context.Context, req MarkRequest) (Record, error) {
	sess, err := s.sessions.ByID(ctx, req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return Record{}, &Reject{Code: CodeSessionNotFound}
	}
	if err != nil {
		return Record{}, err
	}

	crs, err := s.courses.ByID(ctx, sess.CourseID)
	if errors.Is(err, course.ErrNotFound) {
		return Record{}, &Reject{Code: CodeCourseNotFound}
	}
	if err != nil {
		return Record{}, err
	}

	enrolled, err := s.courses.IsEnrolled(ctx, crs.ID, req.StudentID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		// The one rejection with a durable side effect: it may be a
		// deliberate circumvention attempt, not a benign race.
		s.audit.Record(ctx, audit.Event{
			UserID:     req.StudentID,
			Action:     audit.ActionUnauthorizedAttempt,
			EntityType: "course",
			EntityID:   crs.ID,
			Details:    map[string]any{"message": "attendance attempt without enrollment"},
			IPAddress:  req.IP,
		})
		return Record{}, &Reject{Code: CodeNotEnrolled}
	}

	if sess.Status != session.StatusActive {
		return Record{}, &Reject{Code: CodeSessionInactive}
	}

	if sess.QR.SessionToken != req.QRToken || !sess.QR.IsValid {
		return Record{}, &Reject{Code: CodeInvalidToken}
	}

	// Strictly after expiry: a scan landing exactly at expiresAt is
	// still accepted.
	if sess.QR.Expired(s.now()) {
		return Record{}, &Reject{Code: CodeTokenExpired}
	}

	u, err := s.users.ByID(ctx, req.StudentID)
	if errors.Is(err, user.ErrNotFound) {
		return Record{}, &Reject{Code: CodeDeviceMismatch}
	}
	if err != nil {
		return Record{}, err
	}
	if u.DeviceID == "" || u.DeviceID != req.DeviceID {
		return Record{}, &Reject{Code: CodeDeviceMismatch}
	}

	distance := geo.Distance(req.Latitude, req.Longitude, sess.Location.Latitude, sess.Location.Longitude)
	if distance > sess.Location.Radius {
		return Record{}, &Reject{Code: CodeOutsideRadius, Distance: distance}
	}

	if exists, err := s.records.Exists(ctx, req.SessionID, req.StudentID); err != nil {
		return Record{}, err
	} else if exists {
		return Record{}, &Reject{Code: CodeAlreadyMarked}
	}

	rec, err := s.records.Insert(ctx, Record{
		SessionID: req.SessionID,
		CourseID:  sess.CourseID,
		StudentID: req.StudentID,
		Status:    StatusPresent,
		Device:    DeviceEvidence{DeviceID: req.DeviceID, IsValidDevice: true},
		Location: LocationEvidence{
			StudentLatitude:  req.Latitude,
			StudentLongitude: req.Longitude,
			Distance:         distance,
			IsWithinRadius:   true,
		},
		QR: QREvidence{SessionToken: req.QRToken, IsValid: true},
	})
	if errors.Is(err, ErrDuplicate) {
		// Two near-simultaneous scans can both pass the existence
		// check; the constraint decides the loser.
		return Record{}, &Reject{Code: CodeAlreadyMarked}
	}
	if err != nil {
		return Record{}, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     req.StudentID,
		Action:     audit.ActionAttendanceMarked,
		EntityType: "attendance",
		EntityID:   rec.ID,
		Details:    map[string]any{"outcome": "success", "distance": distance},
		IPAddress:  req.IP,
	})
	return rec, nil
}

// ManualMark is the teacher override for one student, identified by
// email. It skips the token, freshness, device, and geofence gates but
// keeps existence, enrollment, session-active, and duplicate.
func (s *Service) ManualMark(ctx context.Context, teacherID, sessionID, email, ip string) (Record, error) {
	student, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return Record{}, &Reject{Code: CodeStudentNotFound}
	}
	if err != nil {
		return Record{}, err
	}
	if student.Role != user.RoleStudent {
		return Record{}, &Reject{Code: CodeStudentNotFound}
	}

	sess, crs, err := s.sessionAndCourse(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if enrolled, err := s.courses.IsEnrolled(ctx, crs.ID, student.ID); err != nil {
		return Record{}, err
	} else if !enrolled {
		return Record{}, &Reject{Code: CodeNotEnrolled}
	}
	if sess.Status != session.StatusActive {
		return Record{}, &Reject{Code: CodeSessionInactive}
	}

	rec, err := s.records.Insert(ctx, overrideRecord(sess, student.ID, DeviceManualOverride))
	if errors.Is(err, ErrDuplicate) {
		return Record{}, &Reject{Code: CodeAlreadyMarked}
	}
	if err != nil {
		return Record{}, err
	}
	marks.WithLabelValues("manual").Inc()

	s.audit.Record(ctx, audit.Event{
		UserID:     teacherID,
		Action:     audit.ActionAttendanceMarked,
		EntityType: "attendance",
		EntityID:   rec.ID,
		Details:    map[string]any{"outcome": "manual_override", "student_email": student.Email},
		IPAddress:  ip,
	})
	return rec, nil
}

// BulkMark marks a set of students at once. Each student is handled
// independently: already-marked, unenrolled, and non-student ids are
// skipped, not failed, so partial success is the normal completion
// state. Returns how many records were newly created.
func (s *Service) BulkMark(ctx context.Context, teacherID, sessionID string, studentIDs []string, ip string) (int, error) {
	sess, crs, err := s.sessionAndCourse(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Status != session.StatusActive {
		return 0, &Reject{Code: CodeSessionInactive}
	}

	markedCount := 0
	for _, studentID := range studentIDs {
		u, err := s.users.ByID(ctx, studentID)
		if errors.Is(err, user.ErrNotFound) {
			continue
		}
		if err != nil {
			return markedCount, err
		}
		if u.Role != user.RoleStudent {
			continue
		}
		if enrolled, err := s.courses.IsEnrolled(ctx, crs.ID, studentID); err != nil {
			return markedCount, err
		} else if !enrolled {
			continue
		}
		if exists, err := s.records.Exists(ctx, sessionID, studentID); err != nil {
			return markedCount, err
		} else if exists {
			continue
		}
		if _, err := s.records.Insert(ctx, overrideRecord(sess, studentID, DeviceManualBulk)); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return markedCount, err
		}
		markedCount++
		marks.WithLabelValues("bulk").Inc()
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     teacherID,
		Action:     audit.ActionAttendanceMarked,
		EntityType: "session",
		EntityID:   sessionID,
		Details:    map[string]any{"outcome": "manual_override", "marked_count": markedCount},
		IPAddress:  ip,
	})
	return markedCount, nil
}

// Attendees lists a session's attendees, newest first, after checking
// the session exists.
func (s *Service) Attendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	if _, err := s.sessions.ByID(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, &Reject{Code: CodeSessionNotFound}
		}
		return nil, err
	}
	return s.records.BySession(ctx, sessionID)
}

// History returns the student's own marked records across courses.
func (s *Service) History(ctx context.Context, studentID string) ([]HistoryEntry, error) {
	return s.records.ByStudent(ctx, studentID)
}

// CourseTimeline returns a per-session present/absent timeline for one
// student in one course.
func (s *Service) CourseTimeline(ctx context.Context, courseID, studentID string) ([]HistoryEntry, error) {
	return s.records.CourseTimeline(ctx, courseID, studentID)
}

func (s *Service) sessionAndCourse(ctx context.Context, sessionID string) (session.Session, course.Course, error) {
	sess, err := s.sessions.ByID(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, course.Course{}, &Reject{Code: CodeSessionNotFound}
	}
	if err != nil {
		return session.Session{}, course.Course{}, err
	}
	crs, err := s.courses.ByID(ctx, sess.CourseID)
	if errors.Is(err, course.ErrNotFound) {
		return session.Session{}, course.Course{}, &Reject{Code: CodeCourseNotFound}
	}
	if err != nil {
		return session.Session{}, course.Course{}, err
	}
	return sess, crs, nil
}

// overrideRecord stamps sentinel evidence in place of real device and
// location data.
func overrideRecord(sess session.Session, studentID, deviceSentinel string) Record {
	return Record{
		SessionID: sess.ID,
		CourseID:  sess.CourseID,
		StudentID: studentID,
		Status:    StatusPresent,
		Device:    DeviceEvidence{DeviceID: deviceSentinel, IsValidDevice: true},
		Location:  LocationEvidence{IsWithinRadius: true},
		QR:        QREvidence{SessionToken: TokenManual, IsValid: true},
	}
}

func outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	var rej *Reject
	if errors.As(err, &rej) {
		return rej.Code
	}
	return "error"
}
