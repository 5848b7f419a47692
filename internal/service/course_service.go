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
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error
	Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error
	Deactivate(ctx context.Context, id string) error
	ListByInstructor(ctx context.Context, instructorID string) ([]models.CourseDetail, error)
	ListPrerequisites(ctx context.Context, courseID string) ([]models.CourseSummary, error)
	ListEnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error)
}

type instructorReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ScheduleInput is the weekly meeting pattern accepted on course writes.
type ScheduleInput struct {
	Days      []string `json:"days" validate:"required,min=1,dive,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	StartTime string   `json:"start_time" validate:"required,clock_time"`
	EndTime   string   `json:"end_time" validate:"required,clock_time"`
	Room      string   `json:"room"`
}

// CreateCourseRequest holds payload for creating courses.
type CreateCourseRequest struct {
	Title         string          `json:"title" validate:"required,max=100"`
	Code          string          `json:"code" validate:"required,course_code"`
	Description   string          `json:"description" validate:"required,max=1000"`
	Credits       int             `json:"credits" validate:"required,min=1,max=6"`
	Department    string          `json:"department" validate:"required"`
	InstructorID  string          `json:"instructor_id" validate:"omitempty,uuid"`
	Prerequisites []string        `json:"prerequisites" validate:"omitempty,dive,uuid"`
	MaxStudents   int             `json:"max_students" validate:"required,min=1,max=200"`
	Schedule      ScheduleInput   `json:"schedule"`
	Semester      models.Semester `json:"semester" validate:"required,oneof=Fall Spring Summer"`
	Year          int             `json:"year" validate:"required,min=2020"`
}

// UpdateCourseRequest holds payload for partially updating courses.
// Nil fields are left unchanged; a nil Prerequisites slice keeps the
// current prerequisite set.
type UpdateCourseRequest struct {
	Title         *string              `json:"title" validate:"omitempty,min=1,max=100"`
	Code          *string              `json:"code" validate:"omitempty,course_code"`
	Description   *string              `json:"description" validate:"omitempty,max=1000"`
	Credits       *int                 `json:"credits" validate:"omitempty,min=1,max=6"`
	Department    *string              `json:"department" validate:"omitempty,min=1"`
	InstructorID  *string              `json:"instructor_id" validate:"omitempty,uuid"`
	Prerequisites []string             `json:"prerequisites" validate:"omitempty,dive,uuid"`
	MaxStudents   *int                 `json:"max_students" validate:"omitempty,min=1,max=200"`
	Schedule      *ScheduleInput       `json:"schedule"`
	Semester      *models.Semester     `json:"semester" validate:"omitempty,oneof=Fall Spring Summer"`
	Year          *int                 `json:"year" validate:"omitempty,min=2020"`
	Status        *models.CourseStatus `json:"status" validate:"omitempty,oneof=open closed cancelled"`
}

// CourseService handles course catalog use-cases.
type CourseService struct {
	repo      courseRepository
	users     instructorReader
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the course service.
func NewCourseService(repo courseRepository, users instructorReader, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, users: users, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

type courseListPayload struct {
	Courses    []models.CourseDetail `json:"courses"`
	Pagination *models.Pagination    `json:"pagination"`
}

// List returns courses matching the filter with pagination metadata.
// Results are served from cache when available.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	key := courseListCacheKey(filter)
	var cached courseListPayload
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Courses, cached.Pagination, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	for i := range courses {
		courses[i].ComputeDerived()
	}
	pagination := models.NewPagination(filter.Page, filter.Limit, total)

	_ = s.cache.Set(ctx, key, courseListPayload{Courses: courses, Pagination: pagination}, s.cacheTTL)
	return courses, pagination, nil
}

// Get returns detailed course information, expanding prerequisites and the
// current roster.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !detail.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}

	prereqs, err := s.repo.ListPrerequisites(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	students, err := s.repo.ListEnrolledStudents(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled students")
	}

	detail.Prerequisites = prereqs
	detail.EnrolledStudents = students
	detail.ComputeDerived()
	return detail, nil
}

// ListByInstructor returns the active courses taught by an instructor.
func (s *CourseService) ListByInstructor(ctx context.Context, instructorID string) ([]models.CourseDetail, error) {
	courses, err := s.repo.ListByInstructor(ctx, instructorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructor courses")
	}
	for i := range courses {
		courses[i].ComputeDerived()
	}
	return courses, nil
}

// Create registers a new course. The instructor defaults to the creating
// principal; only admins may assign a different instructor.
func (s *CourseService) Create(ctx context.Context, principal *models.Principal, req CreateCourseRequest) (*models.CourseDetail, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid course payload")
	}

	instructorID := principal.ID
	if principal.IsAdmin() && req.InstructorID != "" {
		instructorID = req.InstructorID
	}
	if instructorID != principal.ID {
		instructor, err := s.users.FindByID(ctx, instructorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
		}
		if !instructor.Active || instructor.Role != models.RoleInstructor {
			return nil, appErrors.WithField("instructor_id", "must reference an active instructor")
		}
	}

	if _, err := s.repo.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}

	course := &models.Course{
		ID:           uuid.NewString(),
		Code:         req.Code,
		Title:        req.Title,
		Description:  req.Description,
		Credits:      req.Credits,
		Department:   req.Department,
		InstructorID: instructorID,
		MaxStudents:  req.MaxStudents,
		ScheduleDays: req.Schedule.Days,
		StartTime:    req.Schedule.StartTime,
		EndTime:      req.Schedule.EndTime,
		Semester:     req.Semester,
		Year:         req.Year,
		Status:       models.CourseStatusOpen,
		Active:       true,
	}
	if req.Schedule.Room != "" {
		course.Room = &req.Schedule.Room
	}

	if err := s.repo.Create(ctx, course, req.Prerequisites); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidateListings(ctx)
	return s.Get(ctx, course.ID)
}

// Update modifies a course. Instructors may only update their own
// courses; reassigning the instructor is admin-only.
func (s *CourseService) Update(ctx context.Context, principal *models.Principal, id string, req UpdateCourseRequest) (*models.CourseDetail, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid course payload")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	if !s.canModify(principal, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to modify this course")
	}

	if req.Code != nil && *req.Code != course.Code {
		if existing, err := s.repo.FindByCode(ctx, *req.Code); err == nil && existing.ID != course.ID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
		}
		course.Code = *req.Code
	}
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Credits != nil {
		course.Credits = *req.Credits
	}
	if req.Department != nil {
		course.Department = *req.Department
	}
	if req.InstructorID != nil && principal.IsAdmin() {
		instructor, err := s.users.FindByID(ctx, *req.InstructorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
		}
		if !instructor.Active || instructor.Role != models.RoleInstructor {
			return nil, appErrors.WithField("instructor_id", "must reference an active instructor")
		}
		course.InstructorID = *req.InstructorID
	}
	if req.MaxStudents != nil {
		if *req.MaxStudents < course.EnrolledCount {
			return nil, appErrors.WithField("max_students", "cannot be lower than the current enrollment count")
		}
		course.MaxStudents = *req.MaxStudents
	}
	if req.Schedule != nil {
		course.ScheduleDays = req.Schedule.Days
		course.StartTime = req.Schedule.StartTime
		course.EndTime = req.Schedule.EndTime
		if req.Schedule.Room != "" {
			room := req.Schedule.Room
			course.Room = &room
		} else {
			course.Room = nil
		}
	}
	if req.Semester != nil {
		course.Semester = *req.Semester
	}
	if req.Year != nil {
		course.Year = *req.Year
	}
	if req.Status != nil {
		course.Status = *req.Status
	}

	if err := s.repo.Update(ctx, course, req.Prerequisites); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	s.invalidateListings(ctx)
	return s.Get(ctx, course.ID)
}

// Delete deactivates a course. Routing restricts this to admins.
func (s *CourseService) Delete(ctx context.Context, principal *models.Principal, id string) error {
	if !principal.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can delete courses")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateListings(ctx)
	return nil
}

func (s *CourseService) canModify(principal *models.Principal, course *models.Course) bool {
	if principal.IsAdmin() {
		return true
	}
	return principal.Role == models.RoleInstructor && course.InstructorID == principal.ID
}

func (s *CourseService) invalidateListings(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, "courses:*")
}

func courseListCacheKey(filter models.CourseFilter) string {
	return fmt.Sprintf("courses:list:%s:%s:%d:%s:%s:%d:%d",
		filter.Department, filter.Semester, filter.Year, filter.Status, filter.InstructorID, filter.Page, filter.Limit)
}
