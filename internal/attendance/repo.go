package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports a second record for the same (session, student)
// pair. The UNIQUE constraint raising it is the authoritative
// ALREADY_MARKED signal under concurrent scans.
var ErrDuplicate = errors.New("attendance already recorded")

const uniqueViolation = "23505"

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a record, mapping the unique-violation to ErrDuplicate.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPresent
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, session_id, course_id, student_id, status,
			device_id, is_valid_device,
			student_latitude, student_longitude, distance, is_within_radius,
			qr_token, qr_token_valid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING marked_at
	`, rec.ID, rec.SessionID, rec.CourseID, rec.StudentID, rec.Status,
		rec.Device.DeviceID, rec.Device.IsValidDevice,
		rec.Location.StudentLatitude, rec.Location.StudentLongitude,
		rec.Location.Distance, rec.Location.IsWithinRadius,
		rec.QR.SessionToken, rec.QR.IsValid)
	if err := row.Scan(&rec.MarkedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// Exists reports whether the student already has a record for the
// session.
func (r *Repository) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance WHERE session_id = $1 AND student_id = $2
		)
	`, sessionID, studentID).Scan(&exists)
	return exists, err
}

// Attendee is an attendance record joined with the student profile,
// shaped for the teacher dashboard's live list.
type Attendee struct {
	AttendanceID string    `json:"attendance_id"`
	StudentID    string    `json:"student_id"`
	Name         string    `json:"name"`
	RollNumber   string    `json:"roll_number"`
	Email        string    `json:"email"`
	DeviceID     string    `json:"device_id"`
	Distance     float64   `json:"distance"`
	MarkedAt     time.Time `json:"marked_at"`
}

// BySession lists a session's attendees, newest first.
func (r *Repository) BySession(ctx context.Context, sessionID string) ([]Attendee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.student_id, u.name, COALESCE(u.roll_number, ''), u.email,
		       a.device_id, a.distance, a.marked_at
		FROM attendance a
		JOIN users u ON u.id = a.student_id
		WHERE a.session_id = $1
		ORDER BY a.marked_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendees []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.AttendanceID, &a.StudentID, &a.Name, &a.RollNumber, &a.Email,
			&a.DeviceID, &a.Distance, &a.MarkedAt); err != nil {
			return nil, err
		}
		attendees = append(attendees, a)
	}
	return attendees, rows.Err()
}

// HistoryEntry is one session from a student's point of view. Status
// "absent" is derived from the missing record, never stored.
type HistoryEntry struct {
	SessionID string     `json:"session_id"`
	CourseID  string     `json:"course_id"`
	Date      time.Time  `json:"date"`
	Status    string     `json:"status"`
	MarkedAt  *time.Time `json:"marked_at,omitempty"`
	DeviceID  string     `json:"device_id,omitempty"`
}

// ByStudent returns a student's own marked history across courses,
// newest first.
func (r *Repository) ByStudent(ctx context.Context, studentID string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.session_id, a.course_id, s.created_at, a.status, a.marked_at, a.device_id
		FROM attendance a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.student_id = $1
		ORDER BY a.marked_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var markedAt time.Time
		if err := rows.Scan(&e.SessionID, &e.CourseID, &e.Date, &e.Status, &markedAt, &e.DeviceID); err != nil {
			return nil, err
		}
		e.MarkedAt = &markedAt
		history = append(history, e)
	}
	return history, rows.Err()
}

// CourseTimeline returns every session of a course with the student's
// status for each, deriving "absent" for sessions with no record.
func (r *Repository) CourseTimeline(ctx context.Context, courseID, studentID string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.course_id, s.created_at,
		       COALESCE(a.status, 'absent'), a.marked_at, COALESCE(a.device_id, '')
		FROM sessions s
		LEFT JOIN attendance a ON a.session_id = s.id AND a.student_id = $2
		WHERE s.course_id = $1
		ORDER BY s.created_at DESC
	`, courseID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var markedAt sql.NullTime
		if err := rows.Scan(&e.SessionID, &e.CourseID, &e.Date, &e.Status, &markedAt, &e.DeviceID); err != nil {
			return nil, err
		}
		if markedAt.Valid {
			e.MarkedAt = &markedAt.Time
		}
		history = append(history, e)
	}
	return history, rows.Err()
}
