package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_id, teacher_id, duration_minutes, latitude, longitude, radius,
	status, qr_token, qr_generated_at, qr_expires_at, qr_is_valid, created_at`

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, course_id, teacher_id, duration_minutes, latitude, longitude, radius,
			status, qr_token, qr_generated_at, qr_expires_at, qr_is_valid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at
	`, s.ID, s.CourseID, s.TeacherID, s.Duration, s.Location.Latitude, s.Location.Longitude,
		s.Location.Radius, s.Status, s.QR.SessionToken, s.QR.GeneratedAt, s.QR.ExpiresAt, s.QR.IsValid)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// ByID returns a session or ErrNotFound.
func (r *Repository) ByID(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	var s Session
	err := row.Scan(&s.ID, &s.CourseID, &s.TeacherID, &s.Duration,
		&s.Location.Latitude, &s.Location.Longitude, &s.Location.Radius,
		&s.Status, &s.QR.SessionToken, &s.QR.GeneratedAt, &s.QR.ExpiresAt, &s.QR.IsValid, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

// UpdateQR rotates the embedded token in place.
func (r *Repository) UpdateQR(ctx context.Context, id string, qr QRCode) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET qr_token = $2, qr_generated_at = $3, qr_expires_at = $4, qr_is_valid = $5
		WHERE id = $1
	`, id, qr.SessionToken, qr.GeneratedAt, qr.ExpiresAt, qr.IsValid)
	if err != nil {
		return err
	}
	return checkFound(res)
}

// InvalidateQR marks the current token invalid. Terminal for that
// token only; a later rotation issues a fresh valid one.
func (r *Repository) InvalidateQR(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET qr_is_valid = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkFound(res)
}

// CourseSummary is a session row with its attendee count.
type CourseSummary struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Duration      int       `json:"duration_minutes"`
	CreatedAt     time.Time `json:"created_at"`
	AttendeeCount int       `json:"attendee_count"`
}

// ByCourse lists a course's sessions with attendee counts, newest first.
func (r *Repository) ByCourse(ctx context.Context, courseID string) ([]CourseSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.status, s.duration_minutes, s.created_at, COUNT(a.id)
		FROM sessions s
		LEFT JOIN attendance a ON a.session_id = s.id
		WHERE s.course_id = $1
		GROUP BY s.id
		ORDER BY s.created_at DESC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []CourseSummary
	for rows.Next() {
		var s CourseSummary
		if err := rows.Scan(&s.ID, &s.Status, &s.Duration, &s.CreatedAt, &s.AttendeeCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func checkFound(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
