package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openedu/course-enrollment-api/internal/models"
)

type fakeCatalog struct {
	courses       map[string]*models.Course
	prerequisites map[string][]string
	users         map[string]*models.User
	listTotal     int
	lastFilter    models.CourseFilter
	listCalls     int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		courses:       make(map[string]*models.Course),
		prerequisites: make(map[string][]string),
		users:         make(map[string]*models.User),
	}
}

func (f *fakeCatalog) addInstructor() string {
	id := uuid.NewString()
	f.users[id] = &models.User{ID: id, Role: models.RoleInstructor, Active: true}
	return id
}

func (f *fakeCatalog) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	f.lastFilter = filter
	f.listCalls++
	var out []models.CourseDetail
	for _, c := range f.courses {
		if c.Active {
			out = append(out, models.CourseDetail{Course: *c})
		}
	}
	total := f.listTotal
	if total == 0 {
		total = len(out)
	}
	return out, total, nil
}

func (f *fakeCatalog) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCatalog) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	c, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CourseDetail{Course: *c}, nil
}

func (f *fakeCatalog) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	for _, c := range f.courses {
		if c.Code == code {
			copied := *c
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCatalog) Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	copied := *course
	f.courses[course.ID] = &copied
	f.prerequisites[course.ID] = prerequisiteIDs
	return nil
}

func (f *fakeCatalog) Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	copied := *course
	f.courses[course.ID] = &copied
	if prerequisiteIDs != nil {
		f.prerequisites[course.ID] = prerequisiteIDs
	}
	return nil
}

func (f *fakeCatalog) Deactivate(ctx context.Context, id string) error {
	c, ok := f.courses[id]
	if !ok || !c.Active {
		return sql.ErrNoRows
	}
	c.Active = false
	return nil
}

func (f *fakeCatalog) ListByInstructor(ctx context.Context, instructorID string) ([]models.CourseDetail, error) {
	var out []models.CourseDetail
	for _, c := range f.courses {
		if c.Active && c.InstructorID == instructorID {
			out = append(out, models.CourseDetail{Course: *c})
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListPrerequisites(ctx context.Context, courseID string) ([]models.CourseSummary, error) {
	var out []models.CourseSummary
	for _, id := range f.prerequisites[courseID] {
		if c, ok := f.courses[id]; ok {
			out = append(out, models.CourseSummary{ID: c.ID, Code: c.Code, Title: c.Title, Credits: c.Credits})
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListEnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error) {
	return nil, nil
}

type catalogUsers fakeCatalog

func (f *catalogUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func newCourseService(f *fakeCatalog) *CourseService {
	cache := NewCacheService(nil, nil, time.Minute, zap.NewNop(), false)
	return NewCourseService(f, (*catalogUsers)(f), cache, time.Minute, NewValidator(), zap.NewNop())
}

func validCreateRequest() CreateCourseRequest {
	return CreateCourseRequest{
		Title:       "Data Structures",
		Code:        "CS201",
		Description: "Lists, trees and graphs",
		Credits:     3,
		Department:  "Computer Science",
		MaxStudents: 30,
		Schedule: ScheduleInput{
			Days:      []string{"Monday", "Wednesday"},
			StartTime: "10:00",
			EndTime:   "11:30",
			Room:      "B210",
		},
		Semester: models.SemesterFall,
		Year:     2026,
	}
}

func TestCourseCreateDefaultsInstructor(t *testing.T) {
	f := newFakeCatalog()
	instructor := f.addInstructor()
	svc := newCourseService(f)

	detail, err := svc.Create(context.Background(), instructorPrincipal(instructor), validCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, instructor, detail.InstructorID)
	assert.Equal(t, models.CourseStatusOpen, detail.Status)
	assert.True(t, detail.Course.Active)
	assert.Equal(t, 30, detail.AvailableSpots)
	assert.False(t, detail.Full)
}

func TestCourseCreateAdminAssignsInstructor(t *testing.T) {
	f := newFakeCatalog()
	instructor := f.addInstructor()
	admin := uuid.NewString()
	svc := newCourseService(f)

	req := validCreateRequest()
	req.InstructorID = instructor
	detail, err := svc.Create(context.Background(), adminPrincipal(admin), req)
	require.NoError(t, err)
	assert.Equal(t, instructor, detail.InstructorID)

	// unknown instructor is rejected before anything is written
	req = validCreateRequest()
	req.Code = "CS299"
	req.InstructorID = uuid.NewString()
	_, err = svc.Create(context.Background(), adminPrincipal(admin), req)
	assert.Equal(t, "NOT_FOUND", errCode(t, err))
}

func TestCourseCreateValidation(t *testing.T) {
	f := newFakeCatalog()
	instructor := f.addInstructor()
	svc := newCourseService(f)

	req := validCreateRequest()
	req.Code = "cs101"
	req.Credits = 9
	req.Schedule.StartTime = "29:00"
	_, err := svc.Create(context.Background(), instructorPrincipal(instructor), req)
	appErr := errFields(t, err)
	assert.Contains(t, appErr, "code")
	assert.Contains(t, appErr, "credits")
	assert.Contains(t, appErr, "schedule.start_time")
}

func TestCourseCreateDuplicateCode(t *testing.T) {
	f := newFakeCatalog()
	instructor := f.addInstructor()
	svc := newCourseService(f)
	ctx := context.Background()

	_, err := svc.Create(ctx, instructorPrincipal(instructor), validCreateRequest())
	require.NoError(t, err)

	_, err = svc.Create(ctx, instructorPrincipal(instructor), validCreateRequest())
	assert.Equal(t, "CONFLICT", errCode(t, err))
}

func TestCourseUpdateOwnership(t *testing.T) {
	f := newFakeCatalog()
	owner := f.addInstructor()
	other := f.addInstructor()
	svc := newCourseService(f)
	ctx := context.Background()

	detail, err := svc.Create(ctx, instructorPrincipal(owner), validCreateRequest())
	require.NoError(t, err)

	title := "Advanced Data Structures"
	_, err = svc.Update(ctx, instructorPrincipal(other), detail.ID, UpdateCourseRequest{Title: &title})
	assert.Equal(t, "FORBIDDEN", errCode(t, err))

	updated, err := svc.Update(ctx, instructorPrincipal(owner), detail.ID, UpdateCourseRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
}

func TestCourseUpdateCapacityBelowEnrollment(t *testing.T) {
	f := newFakeCatalog()
	owner := f.addInstructor()
	svc := newCourseService(f)
	ctx := context.Background()

	detail, err := svc.Create(ctx, instructorPrincipal(owner), validCreateRequest())
	require.NoError(t, err)
	f.courses[detail.ID].EnrolledCount = 10

	lower := 5
	_, err = svc.Update(ctx, instructorPrincipal(owner), detail.ID, UpdateCourseRequest{MaxStudents: &lower})
	appErr := errFields(t, err)
	assert.Contains(t, appErr, "max_students")
}

func TestCourseDeleteAdminOnly(t *testing.T) {
	f := newFakeCatalog()
	owner := f.addInstructor()
	svc := newCourseService(f)
	ctx := context.Background()

	detail, err := svc.Create(ctx, instructorPrincipal(owner), validCreateRequest())
	require.NoError(t, err)

	err = svc.Delete(ctx, instructorPrincipal(owner), detail.ID)
	assert.Equal(t, "FORBIDDEN", errCode(t, err))

	require.NoError(t, svc.Delete(ctx, adminPrincipal(uuid.NewString()), detail.ID))

	// deactivated courses disappear from reads
	_, err = svc.Get(ctx, detail.ID)
	assert.Equal(t, "NOT_FOUND", errCode(t, err))
}

func TestCourseGetUnknown(t *testing.T) {
	svc := newCourseService(newFakeCatalog())
	_, err := svc.Get(context.Background(), uuid.NewString())
	assert.Equal(t, "NOT_FOUND", errCode(t, err))
}

func TestCourseListPagination(t *testing.T) {
	f := newFakeCatalog()
	instructor := f.addInstructor()
	svc := newCourseService(f)
	ctx := context.Background()

	_, err := svc.Create(ctx, instructorPrincipal(instructor), validCreateRequest())
	require.NoError(t, err)
	f.listTotal = 25

	_, pagination, err := svc.List(ctx, models.CourseFilter{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, pagination.Current)
	assert.Equal(t, 3, pagination.Pages)
	assert.Equal(t, 25, pagination.Total)
}
