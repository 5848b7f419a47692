package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openedu/course-enrollment-api/internal/models"
)

type fakeDirectory struct {
	users       map[string]*models.User
	courses     map[string]*models.Course
	enrolled    map[string][]models.CourseSummary
	auditLog    []models.AuditLog
	deactivated []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:    make(map[string]*models.User),
		courses:  make(map[string]*models.Course),
		enrolled: make(map[string][]models.CourseSummary),
	}
}

func (f *fakeDirectory) add(user models.User) string {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Active = true
	f.users[user.ID] = &user
	return user.ID
}

func (f *fakeDirectory) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range f.users {
		if u.Active && (filter.Role == "" || u.Role == filter.Role) {
			out = append(out, *u)
		}
	}
	return out, len(out), nil
}

func (f *fakeDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDirectory) FindByStudentNumber(ctx context.Context, studentID string) (*models.User, error) {
	for _, u := range f.users {
		if u.StudentID != nil && *u.StudentID == studentID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDirectory) Create(ctx context.Context, user *models.User) error {
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeDirectory) Update(ctx context.Context, user *models.User) error {
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeDirectory) Deactivate(ctx context.Context, id string) error {
	f.deactivated = append(f.deactivated, id)
	if u, ok := f.users[id]; ok {
		u.Active = false
	}
	return nil
}

func (f *fakeDirectory) ListInstructors(ctx context.Context) ([]models.PublicUser, error) {
	var out []models.PublicUser
	for _, u := range f.users {
		if u.Active && u.Role == models.RoleInstructor {
			out = append(out, models.PublicUser{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Department: u.Department})
		}
	}
	return out, nil
}

func (f *fakeDirectory) ListEnrolledCourses(ctx context.Context, userID string) ([]models.CourseSummary, error) {
	return f.enrolled[userID], nil
}

func (f *fakeDirectory) Stats(ctx context.Context) (*models.UserStats, error) {
	stats := &models.UserStats{}
	for _, u := range f.users {
		if !u.Active {
			continue
		}
		stats.TotalUsers++
		switch u.Role {
		case models.RoleStudent:
			stats.TotalStudents++
		case models.RoleInstructor:
			stats.TotalInstructors++
		case models.RoleAdmin:
			stats.TotalAdmins++
		}
	}
	return stats, nil
}

func (f *fakeDirectory) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.auditLog = append(f.auditLog, *log)
	return nil
}

type directoryCourses fakeDirectory

func (f *directoryCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *directoryCourses) ListEnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error) {
	return nil, nil
}

func newUserService(f *fakeDirectory) *UserService {
	return NewUserService(f, (*directoryCourses)(f), NewValidator(), zap.NewNop())
}

func TestUserGetSelfOrAdmin(t *testing.T) {
	f := newFakeDirectory()
	s1 := f.add(models.User{Role: models.RoleStudent, Email: "s1@example.edu"})
	s2 := f.add(models.User{Role: models.RoleStudent, Email: "s2@example.edu"})
	admin := f.add(models.User{Role: models.RoleAdmin, Email: "admin@example.edu"})
	f.enrolled[s1] = []models.CourseSummary{{ID: uuid.NewString(), Code: "CS101", Title: "Intro", Credits: 3}}
	svc := newUserService(f)
	ctx := context.Background()

	detail, err := svc.Get(ctx, studentPrincipal(s1), s1)
	require.NoError(t, err)
	assert.Len(t, detail.EnrolledCourses, 1)

	_, err = svc.Get(ctx, studentPrincipal(s2), s1)
	assert.Equal(t, "FORBIDDEN", errCode(t, err))

	_, err = svc.Get(ctx, adminPrincipal(admin), s1)
	require.NoError(t, err)
}

func TestUserUpdateEmailConflict(t *testing.T) {
	f := newFakeDirectory()
	s1 := f.add(models.User{Role: models.RoleStudent, Email: "s1@example.edu"})
	f.add(models.User{Role: models.RoleStudent, Email: "taken@example.edu"})
	admin := f.add(models.User{Role: models.RoleAdmin, Email: "admin@example.edu"})
	svc := newUserService(f)
	ctx := context.Background()

	taken := "taken@example.edu"
	_, err := svc.Update(ctx, adminPrincipal(admin), s1, UpdateUserRequest{Email: &taken})
	assert.Equal(t, "CONFLICT", errCode(t, err))

	fresh := "fresh@example.edu"
	updated, err := svc.Update(ctx, adminPrincipal(admin), s1, UpdateUserRequest{Email: &fresh})
	require.NoError(t, err)
	assert.Equal(t, fresh, updated.Email)
	assert.NotEmpty(t, f.auditLog)
}

func TestUserDeactivateSelfProtection(t *testing.T) {
	f := newFakeDirectory()
	admin := f.add(models.User{Role: models.RoleAdmin, Email: "admin@example.edu"})
	s1 := f.add(models.User{Role: models.RoleStudent, Email: "s1@example.edu"})
	svc := newUserService(f)
	ctx := context.Background()

	err := svc.Deactivate(ctx, adminPrincipal(admin), admin)
	assert.Equal(t, "STATE_ERROR", errCode(t, err))
	assert.Empty(t, f.deactivated)

	require.NoError(t, svc.Deactivate(ctx, adminPrincipal(admin), s1))
	assert.Equal(t, []string{s1}, f.deactivated)

	err = svc.Deactivate(ctx, adminPrincipal(admin), uuid.NewString())
	assert.Equal(t, "NOT_FOUND", errCode(t, err))
}

func TestUserCreateInstructor(t *testing.T) {
	f := newFakeDirectory()
	admin := f.add(models.User{Role: models.RoleAdmin, Email: "admin@example.edu"})
	svc := newUserService(f)
	ctx := context.Background()

	user, err := svc.CreateInstructor(ctx, adminPrincipal(admin), CreateInstructorRequest{
		FirstName:  "Grace",
		LastName:   "Hopper",
		Email:      "ghopper@example.edu",
		Password:   "compilers",
		Department: "Computer Science",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, user.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.users[user.ID].PasswordHash), []byte("compilers")))

	_, err = svc.CreateInstructor(ctx, adminPrincipal(admin), CreateInstructorRequest{
		FirstName:  "Grace",
		LastName:   "Hopper",
		Email:      "ghopper@example.edu",
		Password:   "compilers",
		Department: "Computer Science",
	})
	assert.Equal(t, "CONFLICT", errCode(t, err))
}

func TestUserEnrolledStudentsUnknownCourse(t *testing.T) {
	f := newFakeDirectory()
	svc := newUserService(f)

	_, err := svc.EnrolledStudents(context.Background(), uuid.NewString())
	assert.Equal(t, "NOT_FOUND", errCode(t, err))
}

func TestUserStats(t *testing.T) {
	f := newFakeDirectory()
	f.add(models.User{Role: models.RoleStudent, Email: "a@example.edu"})
	f.add(models.User{Role: models.RoleStudent, Email: "b@example.edu"})
	f.add(models.User{Role: models.RoleInstructor, Email: "c@example.edu"})
	f.add(models.User{Role: models.RoleAdmin, Email: "d@example.edu"})
	svc := newUserService(f)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalUsers)
	assert.Equal(t, 2, stats.TotalStudents)
	assert.Equal(t, 1, stats.TotalInstructors)
	assert.Equal(t, 1, stats.TotalAdmins)
}
