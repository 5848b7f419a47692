package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openedu/course-enrollment-api/internal/models"
	"github.com/openedu/course-enrollment-api/internal/repository"
	appErrors "github.com/openedu/course-enrollment-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByStudentNumber(ctx context.Context, studentID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	ListInstructors(ctx context.Context) ([]models.PublicUser, error)
	ListEnrolledCourses(ctx context.Context, userID string) ([]models.CourseSummary, error)
	Stats(ctx context.Context) (*models.UserStats, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type courseRoster interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListEnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error)
}

// UpdateUserRequest holds payload for the admin profile update. Role
// changes are not supported; deactivate and re-provision instead.
type UpdateUserRequest struct {
	FirstName  *string `json:"first_name" validate:"omitempty,min=1"`
	LastName   *string `json:"last_name" validate:"omitempty,min=1"`
	Email      *string `json:"email" validate:"omitempty,email"`
	StudentID  *string `json:"student_id"`
	Department *string `json:"department" validate:"omitempty,min=1"`
	Year       *string `json:"year" validate:"omitempty,oneof=1st 2nd 3rd 4th Graduate"`
}

// CreateInstructorRequest provisions an instructor account.
type CreateInstructorRequest struct {
	FirstName  string `json:"first_name" validate:"required"`
	LastName   string `json:"last_name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	Department string `json:"department" validate:"required"`
}

// UserService handles account administration use-cases.
type UserService struct {
	repo      userRepository
	courses   courseRoster
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs the user service.
func NewUserService(repo userRepository, courses courseRoster, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, courses: courses, validator: validate, logger: logger}
}

// List returns users matching the filter with pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// Get returns a user profile with the derived list of enrolled courses.
// Users may view their own profile; admins may view any.
func (s *UserService) Get(ctx context.Context, principal *models.Principal, id string) (*models.UserDetail, error) {
	if !principal.IsAdmin() && principal.ID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this profile")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	detail := &models.UserDetail{User: *user}
	if user.Role == models.RoleStudent {
		courses, err := s.repo.ListEnrolledCourses(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled courses")
		}
		detail.EnrolledCourses = courses
	}
	return detail, nil
}

// Update modifies a user profile. Routing restricts this to admins.
func (s *UserService) Update(ctx context.Context, principal *models.Principal, id string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid user payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if req.Email != nil && *req.Email != user.Email {
		if existing, err := s.repo.FindByEmail(ctx, *req.Email); err == nil && existing.ID != user.ID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		user.Email = *req.Email
	}
	if req.StudentID != nil && *req.StudentID != "" {
		if existing, err := s.repo.FindByStudentNumber(ctx, *req.StudentID); err == nil && existing.ID != user.ID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student id already registered")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student id")
		}
		user.StudentID = req.StudentID
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Department != nil {
		user.Department = *req.Department
	}
	if req.Year != nil {
		user.Year = req.Year
	}

	if err := s.repo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		case errors.Is(err, repository.ErrStudentIDTaken):
			return nil, appErrors.Clone(appErrors.ErrConflict, "student id already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, principal, models.AuditActionUserUpdate, user.ID)
	return user, nil
}

// Deactivate marks a user inactive. Admins cannot deactivate their own
// account, which keeps at least one admin able to act.
func (s *UserService) Deactivate(ctx context.Context, principal *models.Principal, id string) error {
	if principal.ID == id {
		return appErrors.Clone(appErrors.ErrState, "cannot deactivate your own account")
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}

	s.audit(ctx, principal, models.AuditActionUserDeactivate, id)
	return nil
}

// Stats summarises the user population for administrators.
func (s *UserService) Stats(ctx context.Context) (*models.UserStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user stats")
	}
	return stats, nil
}

// ListInstructors returns the public instructor directory.
func (s *UserService) ListInstructors(ctx context.Context) ([]models.PublicUser, error) {
	instructors, err := s.repo.ListInstructors(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructors")
	}
	return instructors, nil
}

// EnrolledStudents returns the students actively enrolled in a course.
func (s *UserService) EnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	students, err := s.courses.ListEnrolledStudents(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled students")
	}
	return students, nil
}

// CreateInstructor provisions an instructor account.
func (s *UserService) CreateInstructor(ctx context.Context, principal *models.Principal, req CreateInstructorRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid instructor payload")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleInstructor,
		Department:   req.Department,
		Active:       true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create instructor")
	}

	s.audit(ctx, principal, models.AuditActionUserUpdate, user.ID)
	return user, nil
}

func (s *UserService) audit(ctx context.Context, principal *models.Principal, action, resourceID string) {
	var actorID *string
	if principal != nil {
		actorID = &principal.ID
	}
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
