package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openedu/course-enrollment-api/internal/models"
)

// Sentinel errors surfaced by the atomic enrollment writes so the service
// layer can map them onto the domain taxonomy.
var (
	ErrCourseUnavailable   = errors.New("course not open for enrollment")
	ErrCapacityExhausted   = errors.New("course capacity exhausted")
	ErrDuplicateEnrollment = errors.New("student already enrolled in course")
)

const pqUniqueViolation = "23505"

const enrollmentDetailColumns = `e.id, e.student_id, e.course_id, e.enrolled_at, e.status, e.grade,
        e.total_classes, e.attended_classes, e.attendance_percentage, e.notes, e.active, e.created_at, e.updated_at,
        u.first_name AS student_first_name, u.last_name AS student_last_name, u.email AS student_email,
        u.student_id AS student_number,
        c.code AS course_code, c.title AS course_title, c.credits AS course_credits,
        c.department AS course_department, c.instructor_id AS course_instructor_id`

const enrollmentDetailJoins = `FROM enrollments e
        JOIN users u ON u.id = e.student_id
        JOIN courses c ON c.id = e.course_id`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, enrolled_at, status, grade, total_classes, attended_classes,
        attendance_percentage, notes, active, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.id = $1", enrollmentDetailColumns, enrollmentDetailJoins)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsActive checks if an active enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND active LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Enroll inserts the enrollment and claims a capacity slot in a single
// transaction. The conditional update either consumes a slot or affects
// zero rows, in which case the course row is inspected to tell a closed
// course from a full one. The partial unique index on active (student,
// course) pairs turns races into ErrDuplicateEnrollment.
func (r *EnrollmentRepository) Enroll(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}
	enrollment.Active = true
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const claim = `UPDATE courses SET enrolled_count = enrolled_count + 1, updated_at = $2
        WHERE id = $1 AND active AND status = 'open' AND enrolled_count < max_students`
	res, err := tx.ExecContext(ctx, claim, enrollment.CourseID, now)
	if err != nil {
		return fmt.Errorf("claim course slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim course slot: %w", err)
	}
	if affected == 0 {
		return r.classifyClaimFailure(ctx, tx, enrollment.CourseID)
	}

	const insert = `INSERT INTO enrollments (id, student_id, course_id, enrolled_at, status, grade, total_classes,
        attended_classes, attendance_percentage, notes, active, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :enrolled_at, :status, :grade, :total_classes,
        :attended_classes, :attendance_percentage, :notes, :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

func (r *EnrollmentRepository) classifyClaimFailure(ctx context.Context, tx *sqlx.Tx, courseID string) error {
	var course struct {
		Status        models.CourseStatus `db:"status"`
		Active        bool                `db:"active"`
		EnrolledCount int                 `db:"enrolled_count"`
		MaxStudents   int                 `db:"max_students"`
	}
	const query = `SELECT status, active, enrolled_count, max_students FROM courses WHERE id = $1`
	if err := tx.GetContext(ctx, &course, query, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("inspect course: %w", err)
	}
	switch {
	case !course.Active:
		return sql.ErrNoRows
	case course.Status != models.CourseStatusOpen:
		return ErrCourseUnavailable
	case course.EnrolledCount >= course.MaxStudents:
		return ErrCapacityExhausted
	default:
		return ErrCourseUnavailable
	}
}

// Drop marks the enrollment dropped and releases its capacity slot in one
// transaction. Returns sql.ErrNoRows when the enrollment is not active.
func (r *EnrollmentRepository) Drop(ctx context.Context, id string) error {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE enrollments SET status = $2, active = FALSE, updated_at = $3
        WHERE id = $1 AND active RETURNING course_id`
	var courseID string
	if err := tx.GetContext(ctx, &courseID, update, id, models.EnrollmentStatusDropped, now); err != nil {
		return err
	}

	const release = `UPDATE courses SET enrolled_count = GREATEST(enrolled_count - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, release, courseID, now); err != nil {
		return fmt.Errorf("release course slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop: %w", err)
	}
	return nil
}

// ListByStudent returns the active enrollments of a student, newest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.student_id = $1 AND e.active ORDER BY e.enrolled_at DESC",
		enrollmentDetailColumns, enrollmentDetailJoins)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByCourse returns the active enrollments of a course, newest first.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.course_id = $1 AND e.active ORDER BY e.enrolled_at DESC",
		enrollmentDetailColumns, enrollmentDetailJoins)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return enrollments, nil
}

// UpdateGrade sets the grade on an enrollment.
func (r *EnrollmentRepository) UpdateGrade(ctx context.Context, id, grade string) error {
	const query = `UPDATE enrollments SET grade = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, grade, time.Now().UTC()); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// UpdateAttendance stores the attendance counters and the recomputed
// percentage.
func (r *EnrollmentRepository) UpdateAttendance(ctx context.Context, id string, total, attended, percentage int) error {
	const query = `UPDATE enrollments SET total_classes = $2, attended_classes = $3, attendance_percentage = $4,
        updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, total, attended, percentage, time.Now().UTC()); err != nil {
		return fmt.Errorf("update attendance: %w", err)
	}
	return nil
}

// CountActiveByStatus reports active enrollments grouped by status,
// used by operational dashboards.
func (r *EnrollmentRepository) CountActiveByStatus(ctx context.Context) (map[models.EnrollmentStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM enrollments WHERE active GROUP BY status`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EnrollmentStatus]int)
	for rows.Next() {
		var status models.EnrollmentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan enrollment count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// IsUniqueViolation reports whether the error is a Postgres unique-index
// rejection, the fallback conflict signal required when check-then-write
// races.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// uniqueViolationOn reports a unique violation on a specific constraint.
func uniqueViolationOn(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation &&
		strings.Contains(pqErr.Constraint, constraint)
}
