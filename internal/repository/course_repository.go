package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openedu/course-enrollment-api/internal/models"
)

const courseDetailColumns = `c.id, c.code, c.title, c.description, c.credits, c.department, c.instructor_id,
        c.max_students, c.enrolled_count, c.schedule_days, c.start_time, c.end_time, c.room,
        c.semester, c.year, c.status, c.active, c.created_at, c.updated_at,
        u.first_name AS instructor_first_name, u.last_name AS instructor_last_name, u.email AS instructor_email`

const courseDetailJoins = `FROM courses c JOIN users u ON u.id = c.instructor_id`

// CourseRepository handles persistence of course offerings.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns active courses filtered by the provided criteria, newest
// first, with the total count for pagination.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := courseDetailJoins + " WHERE c.active"
	var conditions []string
	var args []interface{}

	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("c.department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("c.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("c.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf("SELECT %s %s ORDER BY c.created_at DESC LIMIT %d OFFSET %d",
		courseDetailColumns, base+clause, limit, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, title, description, credits, department, instructor_id, max_students,
        enrolled_count, schedule_days, start_time, end_time, room, semester, year, status, active,
        created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindDetailByID returns a course with instructor context.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE c.id = $1", courseDetailColumns, courseDetailJoins)
	var detail models.CourseDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByCode returns the course holding the given code, if any.
func (r *CourseRepository) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	const query = `SELECT id, code, title, description, credits, department, instructor_id, max_students,
        enrolled_count, schedule_days, start_time, end_time, room, semester, year, status, active,
        created_at, updated_at FROM courses WHERE code = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create persists a new course and its prerequisite references.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create course tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO courses (id, code, title, description, credits, department, instructor_id,
        max_students, enrolled_count, schedule_days, start_time, end_time, room, semester, year, status, active,
        created_at, updated_at)
        VALUES (:id, :code, :title, :description, :credits, :department, :instructor_id,
        :max_students, :enrolled_count, :schedule_days, :start_time, :end_time, :room, :semester, :year, :status,
        :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, course); err != nil {
		return err
	}

	if err := replacePrerequisites(ctx, tx, course.ID, prerequisiteIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create course: %w", err)
	}
	return nil
}

// Update saves the mutable fields of a course; when prerequisiteIDs is
// non-nil the prerequisite set is replaced.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	course.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update course tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE courses SET code = :code, title = :title, description = :description, credits = :credits,
        department = :department, instructor_id = :instructor_id, max_students = :max_students,
        schedule_days = :schedule_days, start_time = :start_time, end_time = :end_time, room = :room,
        semester = :semester, year = :year, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, update, course); err != nil {
		return err
	}

	if prerequisiteIDs != nil {
		if err := replacePrerequisites(ctx, tx, course.ID, prerequisiteIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update course: %w", err)
	}
	return nil
}

// Deactivate performs a soft delete by marking the course inactive.
func (r *CourseRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE courses SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate course: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByInstructor returns the active courses taught by an instructor.
func (r *CourseRepository) ListByInstructor(ctx context.Context, instructorID string) ([]models.CourseDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE c.instructor_id = $1 AND c.active ORDER BY c.created_at DESC",
		courseDetailColumns, courseDetailJoins)
	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, instructorID); err != nil {
		return nil, fmt.Errorf("list instructor courses: %w", err)
	}
	return courses, nil
}

// ListPrerequisites returns the prerequisite summaries of a course.
func (r *CourseRepository) ListPrerequisites(ctx context.Context, courseID string) ([]models.CourseSummary, error) {
	const query = `SELECT c.id, c.code, c.title, c.credits FROM course_prerequisites p
        JOIN courses c ON c.id = p.prerequisite_id WHERE p.course_id = $1 ORDER BY c.code`
	var prerequisites []models.CourseSummary
	if err := r.db.SelectContext(ctx, &prerequisites, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return prerequisites, nil
}

// ListEnrolledStudents returns the students holding an active enrollment
// in the course, derived from the enrollments table.
func (r *CourseRepository) ListEnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error) {
	const query = `SELECT u.id, u.first_name, u.last_name, u.email, u.student_id, u.department, u.year
        FROM enrollments e JOIN users u ON u.id = e.student_id
        WHERE e.course_id = $1 AND e.active ORDER BY u.last_name, u.first_name`
	var students []models.StudentSummary
	if err := r.db.SelectContext(ctx, &students, query, courseID); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return students, nil
}

func replacePrerequisites(ctx context.Context, tx *sqlx.Tx, courseID string, prerequisiteIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM course_prerequisites WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("clear prerequisites: %w", err)
	}
	for _, prereqID := range prerequisiteIDs {
		if prereqID == courseID {
			continue
		}
		const insert = `INSERT INTO course_prerequisites (course_id, prerequisite_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, insert, courseID, prereqID); err != nil {
			return fmt.Errorf("insert prerequisite: %w", err)
		}
	}
	return nil
}

