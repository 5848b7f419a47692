package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openedu/course-enrollment-api/internal/models"
	"github.com/openedu/course-enrollment-api/internal/repository"
	appErrors "github.com/openedu/course-enrollment-api/pkg/errors"
	"github.com/openedu/course-enrollment-api/pkg/export"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsActive(ctx context.Context, studentID, courseID string) (bool, error)
	Enroll(ctx context.Context, enrollment *models.Enrollment) error
	Drop(ctx context.Context, id string) error
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
	UpdateGrade(ctx context.Context, id, grade string) error
	UpdateAttendance(ctx context.Context, id string, total, attended, percentage int) error
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// EnrollRequest holds payload for creating an enrollment. StudentID is
// only honored for admins enrolling on behalf of a student.
type EnrollRequest struct {
	CourseID  string `json:"course_id" validate:"required,uuid"`
	StudentID string `json:"student_id" validate:"omitempty,uuid"`
}

// GradeRequest assigns a grade to an enrollment.
type GradeRequest struct {
	Grade string `json:"grade" validate:"required,oneof=A+ A A- B+ B B- C+ C C- D+ D F P NP"`
}

// AttendanceRequest records class attendance counters. The stored
// percentage is always recomputed server side.
type AttendanceRequest struct {
	TotalClasses    int `json:"total_classes" validate:"min=0"`
	AttendedClasses int `json:"attended_classes" validate:"min=0"`
}

// EnrollmentService handles the enrollment lifecycle.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   enrollmentCourseReader
	users     enrollmentUserReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs the enrollment service.
func NewEnrollmentService(repo enrollmentRepository, courses enrollmentCourseReader, users enrollmentUserReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, users: users, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Enroll registers a student in a course. Students enroll themselves;
// admins may enroll on behalf of a student. Preconditions are checked in
// a fixed order (existence, course open, capacity, duplicate) and the
// capacity claim itself happens atomically in the repository, so a full
// course can never oversubscribe under concurrent requests.
func (s *EnrollmentService) Enroll(ctx context.Context, principal *models.Principal, req EnrollRequest) (*models.EnrollmentDetail, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid enrollment payload")
	}

	studentID := principal.ID
	if principal.IsAdmin() {
		if req.StudentID == "" {
			return nil, appErrors.WithField("student_id", "required when enrolling on behalf of a student")
		}
		studentID = req.StudentID
	} else if req.StudentID != "" && req.StudentID != principal.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only enroll themselves")
	}

	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.WithField("student_id", "must reference a student account")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	if course.Status != models.CourseStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrState, "course is not open for enrollment")
	}
	if course.IsFull() {
		s.metrics.RecordEnrollmentDecision("course_full")
		return nil, appErrors.Clone(appErrors.ErrCapacity, "course is full")
	}

	if exists, err := s.repo.ExistsActive(ctx, studentID, req.CourseID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	} else if exists {
		s.metrics.RecordEnrollmentDecision("duplicate")
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
	}

	enrollment := &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		CourseID:   req.CourseID,
		EnrolledAt: time.Now().UTC(),
		Status:     models.EnrollmentStatusEnrolled,
		Active:     true,
	}

	if err := s.repo.Enroll(ctx, enrollment); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		case errors.Is(err, repository.ErrCourseUnavailable):
			return nil, appErrors.Clone(appErrors.ErrState, "course is not open for enrollment")
		case errors.Is(err, repository.ErrCapacityExhausted):
			s.metrics.RecordEnrollmentDecision("course_full")
			return nil, appErrors.Clone(appErrors.ErrCapacity, "course is full")
		case errors.Is(err, repository.ErrDuplicateEnrollment):
			s.metrics.RecordEnrollmentDecision("duplicate")
			return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
	}

	s.metrics.RecordEnrollmentDecision("accepted")
	s.invalidateCourseCaches(ctx)
	return s.detail(ctx, enrollment.ID)
}

// Drop withdraws an active enrollment. Students may drop their own
// enrollments; admins may drop any.
func (s *EnrollmentService) Drop(ctx context.Context, principal *models.Principal, enrollmentID string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if !principal.IsAdmin() && enrollment.StudentID != principal.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to drop this enrollment")
	}
	if !enrollment.Active {
		return nil, appErrors.Clone(appErrors.ErrState, "enrollment is not active")
	}

	if err := s.repo.Drop(ctx, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrState, "enrollment is not active")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}

	s.invalidateCourseCaches(ctx)
	return s.detail(ctx, enrollmentID)
}

// ListByStudent returns a student's enrollments. Students may only view
// their own; instructors and admins may view any student's.
func (s *EnrollmentService) ListByStudent(ctx context.Context, principal *models.Principal, studentID string) ([]models.EnrollmentDetail, error) {
	if principal.Role == models.RoleStudent && principal.ID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view these enrollments")
	}
	enrollments, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// ListByCourse returns the active roster for a course. Only the owning
// instructor or an admin may view it.
func (s *EnrollmentService) ListByCourse(ctx context.Context, principal *models.Principal, courseID string) ([]models.EnrollmentDetail, error) {
	if _, err := s.authorizeRosterAccess(ctx, principal, courseID); err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}
	return enrollments, nil
}

// UpdateGrade assigns a grade. Only the instructor of the course or an
// admin may grade, and grading is permitted regardless of enrollment
// status so instructors can correct records after completion or drop.
func (s *EnrollmentService) UpdateGrade(ctx context.Context, principal *models.Principal, enrollmentID string, req GradeRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid grade payload")
	}

	enrollment, err := s.loadForInstructor(ctx, principal, enrollmentID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateGrade(ctx, enrollment.ID, req.Grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grade")
	}
	return s.detail(ctx, enrollment.ID)
}

// UpdateAttendance records attendance counters and recomputes the stored
// percentage.
func (s *EnrollmentService) UpdateAttendance(ctx context.Context, principal *models.Principal, enrollmentID string, req AttendanceRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid attendance payload")
	}
	if req.AttendedClasses > req.TotalClasses {
		return nil, appErrors.WithField("attended_classes", "cannot exceed total_classes")
	}

	enrollment, err := s.loadForInstructor(ctx, principal, enrollmentID)
	if err != nil {
		return nil, err
	}

	percentage := models.AttendancePercent(req.AttendedClasses, req.TotalClasses)
	if err := s.repo.UpdateAttendance(ctx, enrollment.ID, req.TotalClasses, req.AttendedClasses, percentage); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance")
	}
	return s.detail(ctx, enrollment.ID)
}

// ExportRoster renders the active roster of a course as CSV or PDF.
func (s *EnrollmentService) ExportRoster(ctx context.Context, principal *models.Principal, courseID, format string) ([]byte, string, string, error) {
	course, err := s.authorizeRosterAccess(ctx, principal, courseID)
	if err != nil {
		return nil, "", "", err
	}

	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}

	table := export.Table{
		Columns: []string{"Student Number", "Last Name", "First Name", "Email", "Status", "Grade", "Attendance %"},
	}
	for _, e := range enrollments {
		table.Rows = append(table.Rows, []string{
			stringOrDash(e.StudentNumber),
			e.StudentLastName,
			e.StudentFirstName,
			e.StudentEmail,
			string(e.Status),
			stringOrDash(e.Grade),
			fmt.Sprintf("%d", e.AttendancePercentage),
		})
	}

	title := fmt.Sprintf("%s %s roster", course.Code, course.Title)
	switch format {
	case "csv", "":
		data, err := export.CSV(table)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", fmt.Sprintf("roster_%s.csv", course.Code), nil
	case "pdf":
		data, err := export.PDF(table, title)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", fmt.Sprintf("roster_%s.pdf", course.Code), nil
	}
	return nil, "", "", appErrors.WithField("format", "must be one of: csv, pdf")
}

func (s *EnrollmentService) authorizeRosterAccess(ctx context.Context, principal *models.Principal, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !principal.IsAdmin() && course.InstructorID != principal.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this roster")
	}
	return course, nil
}

// loadForInstructor fetches an enrollment and verifies that the principal
// teaches its course or is an admin.
func (s *EnrollmentService) loadForInstructor(ctx context.Context, principal *models.Principal, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if !principal.IsAdmin() {
		course, err := s.courses.FindByID(ctx, enrollment.CourseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if course.InstructorID != principal.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to modify this enrollment")
		}
	}
	return enrollment, nil
}

func (s *EnrollmentService) detail(ctx context.Context, enrollmentID string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

func (s *EnrollmentService) invalidateCourseCaches(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, "courses:*")
}

func stringOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
