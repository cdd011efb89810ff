package course

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound reports a missing course.
var ErrNotFound = errors.New("course not found")

// Course is the read model the attendance pipeline needs. Full course
// management lives outside this service.
type Course struct {
	ID         string    `json:"id"`
	CourseCode string    `json:"course_code"`
	CourseName string    `json:"course_name"`
	TeacherID  string    `json:"teacher_id"`
	Semester   string    `json:"semester"`
	Year       int       `json:"year"`
	Department string    `json:"department"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Radius     float64   `json:"radius"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository reads courses and enrollment from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ByID returns a course or ErrNotFound.
func (r *Repository) ByID(ctx context.Context, id string) (Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_code, course_name, teacher_id, semester, year, department,
		       latitude, longitude, radius, created_at
		FROM courses WHERE id = $1
	`, id)
	var c Course
	err := row.Scan(&c.ID, &c.CourseCode, &c.CourseName, &c.TeacherID, &c.Semester,
		&c.Year, &c.Department, &c.Latitude, &c.Longitude, &c.Radius, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	return c, err
}

// IsEnrolled reports whether a student belongs to the course's
// enrollment set. The join table's primary key keeps the set free of
// duplicates.
func (r *Repository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	var enrolled bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM course_students WHERE course_id = $1 AND student_id = $2
		)
	`, courseID, studentID).Scan(&enrolled)
	return enrolled, err
}

// Enroll adds a student to a course, ignoring re-enrollment.
func (r *Repository) Enroll(ctx context.Context, courseID, studentID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_students (course_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (course_id, student_id) DO NOTHING
	`, courseID, studentID)
	return err
}

// ByTeacher lists a teacher's courses.
func (r *Repository) ByTeacher(ctx context.Context, teacherID string) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_code, course_name, teacher_id, semester, year, department,
		       latitude, longitude, radius, created_at
		FROM courses WHERE teacher_id = $1
		ORDER BY course_code
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.CourseCode, &c.CourseName, &c.TeacherID, &c.Semester,
			&c.Year, &c.Department, &c.Latitude, &c.Longitude, &c.Radius, &c.CreatedAt); err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}
