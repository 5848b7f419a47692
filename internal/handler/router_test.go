package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openedu/course-enrollment-api/internal/models"
	"github.com/openedu/course-enrollment-api/internal/repository"
	"github.com/openedu/course-enrollment-api/internal/service"
	"github.com/openedu/course-enrollment-api/pkg/config"
)

// memState is a shared in-memory dataset backing the repository fakes so
// full request flows can run against the real router and services.
type memState struct {
	users       map[string]*models.User
	tokens      map[string]*models.RefreshToken
	courses     map[string]*models.Course
	enrollments map[string]*models.Enrollment
}

func newMemState() *memState {
	return &memState{
		users:       make(map[string]*models.User),
		tokens:      make(map[string]*models.RefreshToken),
		courses:     make(map[string]*models.Course),
		enrollments: make(map[string]*models.Enrollment),
	}
}

type memUsers memState

func (m *memUsers) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		if u.Active && (filter.Role == "" || u.Role == filter.Role) {
			out = append(out, *u)
		}
	}
	return out, len(out), nil
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) FindByStudentNumber(ctx context.Context, studentID string) (*models.User, error) {
	for _, u := range m.users {
		if u.StudentID != nil && *u.StudentID == studentID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUsers) Update(ctx context.Context, user *models.User) error {
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUsers) Deactivate(ctx context.Context, id string) error {
	if u, ok := m.users[id]; ok {
		u.Active = false
	}
	return nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
		return nil
	}
	return sql.ErrNoRows
}

func (m *memUsers) ListInstructors(ctx context.Context) ([]models.PublicUser, error) {
	var out []models.PublicUser
	for _, u := range m.users {
		if u.Active && u.Role == models.RoleInstructor {
			out = append(out, models.PublicUser{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Department: u.Department})
		}
	}
	return out, nil
}

func (m *memUsers) ListEnrolledCourses(ctx context.Context, userID string) ([]models.CourseSummary, error) {
	var out []models.CourseSummary
	for _, e := range m.enrollments {
		if e.StudentID == userID && e.Active {
			if c, ok := m.courses[e.CourseID]; ok {
				out = append(out, models.CourseSummary{ID: c.ID, Code: c.Code, Title: c.Title, Credits: c.Credits})
			}
		}
	}
	return out, nil
}

func (m *memUsers) Stats(ctx context.Context) (*models.UserStats, error) {
	stats := &models.UserStats{}
	for _, u := range m.users {
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

func (m *memUsers) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, tok := range m.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (m *memUsers) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	copied := *token
	m.tokens[token.Token] = &copied
	return nil
}

func (m *memUsers) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if tok, ok := m.tokens[token]; ok {
		copied := *tok
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, tok := range m.tokens {
		if tok.ID == id {
			tok.Revoked = true
			tok.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type memCourses memState

func (m *memCourses) detail(c *models.Course) models.CourseDetail {
	d := models.CourseDetail{Course: *c}
	if instructor, ok := m.users[c.InstructorID]; ok {
		d.InstructorFirstName = instructor.FirstName
		d.InstructorLastName = instructor.LastName
		d.InstructorEmail = instructor.Email
	}
	return d
}

func (m *memCourses) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	var out []models.CourseDetail
	for _, c := range m.courses {
		if c.Active {
			out = append(out, m.detail(c))
		}
	}
	return out, len(out), nil
}

func (m *memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memCourses) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	if c, ok := m.courses[id]; ok {
		d := m.detail(c)
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memCourses) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	for _, c := range m.courses {
		if c.Code == code {
			copied := *c
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memCourses) Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	copied := *course
	m.courses[course.ID] = &copied
	return nil
}

func (m *memCourses) Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	copied := *course
	m.courses[course.ID] = &copied
	return nil
}

func (m *memCourses) Deactivate(ctx context.Context, id string) error {
	c, ok := m.courses[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Active = false
	return nil
}

func (m *memCourses) ListByInstructor(ctx context.Context, instructorID string) ([]models.CourseDetail, error) {
	var out []models.CourseDetail
	for _, c := range m.courses {
		if c.Active && c.InstructorID == instructorID {
			out = append(out, m.detail(c))
		}
	}
	return out, nil
}

func (m *memCourses) ListPrerequisites(ctx context.Context, courseID string) ([]models.CourseSummary, error) {
	return nil, nil
}

func (m *memCourses) ListEnrolledStudents(ctx context.Context, courseID string) ([]models.StudentSummary, error) {
	var out []models.StudentSummary
	for _, e := range m.enrollments {
		if e.CourseID == courseID && e.Active {
			if u, ok := m.users[e.StudentID]; ok {
				out = append(out, models.StudentSummary{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, StudentID: u.StudentID, Department: u.Department})
			}
		}
	}
	return out, nil
}

type memEnrollments memState

func (m *memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memEnrollments) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := models.EnrollmentDetail{Enrollment: *e}
	if u, ok := m.users[e.StudentID]; ok {
		detail.StudentFirstName = u.FirstName
		detail.StudentLastName = u.LastName
		detail.StudentEmail = u.Email
		detail.StudentNumber = u.StudentID
	}
	if c, ok := m.courses[e.CourseID]; ok {
		detail.CourseCode = c.Code
		detail.CourseTitle = c.Title
		detail.CourseCredits = c.Credits
		detail.CourseDepartment = c.Department
		detail.CourseInstructorID = c.InstructorID
	}
	return &detail, nil
}

func (m *memEnrollments) ExistsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.Active {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEnrollments) Enroll(ctx context.Context, enrollment *models.Enrollment) error {
	course, ok := m.courses[enrollment.CourseID]
	if !ok || !course.Active {
		return sql.ErrNoRows
	}
	if course.Status != models.CourseStatusOpen {
		return repository.ErrCourseUnavailable
	}
	if course.EnrolledCount >= course.MaxStudents {
		return repository.ErrCapacityExhausted
	}
	if exists, _ := m.ExistsActive(ctx, enrollment.StudentID, enrollment.CourseID); exists {
		return repository.ErrDuplicateEnrollment
	}
	course.EnrolledCount++
	copied := *enrollment
	m.enrollments[enrollment.ID] = &copied
	return nil
}

func (m *memEnrollments) Drop(ctx context.Context, id string) error {
	e, ok := m.enrollments[id]
	if !ok || !e.Active {
		return sql.ErrNoRows
	}
	e.Active = false
	e.Status = models.EnrollmentStatusDropped
	if course, ok := m.courses[e.CourseID]; ok && course.EnrolledCount > 0 {
		course.EnrolledCount--
	}
	return nil
}

func (m *memEnrollments) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	var out []models.EnrollmentDetail
	for id, e := range m.enrollments {
		if e.StudentID == studentID && e.Active {
			detail, _ := m.FindDetailByID(ctx, id)
			out = append(out, *detail)
		}
	}
	return out, nil
}

func (m *memEnrollments) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	var out []models.EnrollmentDetail
	for id, e := range m.enrollments {
		if e.CourseID == courseID && e.Active {
			detail, _ := m.FindDetailByID(ctx, id)
			out = append(out, *detail)
		}
	}
	return out, nil
}

func (m *memEnrollments) UpdateGrade(ctx context.Context, id, grade string) error {
	if e, ok := m.enrollments[id]; ok {
		e.Grade = &grade
		return nil
	}
	return sql.ErrNoRows
}

func (m *memEnrollments) UpdateAttendance(ctx context.Context, id string, total, attended, percentage int) error {
	if e, ok := m.enrollments[id]; ok {
		e.TotalClasses = total
		e.AttendedClasses = attended
		e.AttendancePercentage = percentage
		return nil
	}
	return sql.ErrNoRows
}

type testEnv struct {
	router *gin.Engine
	state  *memState
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	state := newMemState()
	users := (*memUsers)(state)
	courses := (*memCourses)(state)
	enrollments := (*memEnrollments)(state)

	logr := zap.NewNop()
	validate := service.NewValidator()
	metrics := service.NewMetricsService()
	cache := service.NewCacheService(nil, metrics, time.Minute, logr, false)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  "integration-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "course-enrollment-api",
	})
	userSvc := service.NewUserService(users, courses, validate, logr)
	courseSvc := service.NewCourseService(courses, users, cache, time.Minute, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollments, courses, users, cache, metrics, validate, logr)
	advisorSvc := service.NewAdvisorService(nil, config.AdvisorConfig{}, validate, logr)

	cfg := &config.Config{
		Env:       config.EnvDevelopment,
		APIPrefix: "/api/v1",
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	router := NewRouter(Deps{
		Config:      cfg,
		Logger:      logr,
		AuthService: authSvc,
		Metrics:     metrics,
		Auth:        NewAuthHandler(authSvc, userSvc),
		Courses:     NewCourseHandler(courseSvc),
		Enrollments: NewEnrollmentHandler(enrollmentSvc),
		Users:       NewUserHandler(userSvc),
		Advisor:     NewAdvisorHandler(advisorSvc),
		Health:      NewHealthHandler(nil, nil),
	})
	return &testEnv{router: router, state: state}
}

func (env *testEnv) seedUser(role models.UserRole, email, password string) string {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	id := uuid.NewString()
	env.state.users[id] = &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    "Test",
		LastName:     "Account",
		Role:         role,
		Department:   "Computer Science",
		Active:       true,
	}
	return id
}

func (env *testEnv) seedCourse(instructorID string, maxStudents int) string {
	id := uuid.NewString()
	env.state.courses[id] = &models.Course{
		ID:           id,
		Code:         "CS101",
		Title:        "Intro to Programming",
		Description:  "Variables, loops and functions.",
		Credits:      3,
		Department:   "Computer Science",
		InstructorID: instructorID,
		MaxStudents:  maxStudents,
		ScheduleDays: []string{"Monday", "Wednesday"},
		StartTime:    "10:00",
		EndTime:      "11:30",
		Semester:     models.SemesterFall,
		Year:         2026,
		Status:       models.CourseStatusOpen,
		Active:       true,
	}
	return id
}

func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.AccessToken)
	return body.Data.AccessToken
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRouterHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"email":      "ada@example.edu",
		"password":   "analytical",
		"department": "Mathematics",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	token := env.login(t, "ada@example.edu", "analytical")

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@example.edu", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestRouterCourseAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(models.RoleInstructor, "prof@example.edu", "lectures1")
	env.seedUser(models.RoleStudent, "student@example.edu", "homework1")

	payload := gin.H{
		"title":        "Algorithms",
		"code":         "CS301",
		"description":  "Sorting, searching and graphs.",
		"credits":      3,
		"department":   "Computer Science",
		"max_students": 30,
		"schedule": gin.H{
			"days":       []string{"Tuesday", "Thursday"},
			"start_time": "14:00",
			"end_time":   "15:30",
			"room":       "B210",
		},
		"semester": "Fall",
		"year":     2026,
	}

	instructor := env.login(t, "prof@example.edu", "lectures1")
	rec := env.do(t, http.MethodPost, "/api/v1/courses", instructor, payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	student := env.login(t, "student@example.edu", "homework1")
	rec = env.do(t, http.MethodPost, "/api/v1/courses", student, payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	// the catalog is public
	rec = env.do(t, http.MethodGet, "/api/v1/courses", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// deleting requires admin
	rec = env.do(t, http.MethodDelete, "/api/v1/courses/"+uuid.NewString(), instructor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterEnrollmentFlow(t *testing.T) {
	env := newTestEnv(t)
	instructorID := env.seedUser(models.RoleInstructor, "prof@example.edu", "lectures1")
	env.seedUser(models.RoleStudent, "student@example.edu", "homework1")
	courseID := env.seedCourse(instructorID, 1)

	student := env.login(t, "student@example.edu", "homework1")
	instructor := env.login(t, "prof@example.edu", "lectures1")

	rec := env.do(t, http.MethodPost, "/api/v1/enrollments", student, gin.H{"course_id": courseID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var enrolled struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrolled))
	enrollmentID := enrolled.Data.ID
	require.NotEmpty(t, enrollmentID)

	// the capacity slot is consumed
	rec = env.do(t, http.MethodPost, "/api/v1/enrollments", student, gin.H{"course_id": courseID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, rec))

	// instructors cannot enroll at all
	rec = env.do(t, http.MethodPost, "/api/v1/enrollments", instructor, gin.H{"course_id": courseID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/enrollments/%s/grade", enrollmentID), instructor, gin.H{"grade": "A"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/enrollments/%s/attendance", enrollmentID), instructor, gin.H{"total_classes": 12, "attended_classes": 10})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 83, env.state.enrollments[enrollmentID].AttendancePercentage)

	rec = env.do(t, http.MethodGet, "/api/v1/enrollments/course/"+courseID+"/export?format=csv", instructor, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roster_CS101.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Student Number,"))

	rec = env.do(t, http.MethodDelete, "/api/v1/enrollments/"+enrollmentID, student, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, env.state.courses[courseID].EnrolledCount)
}

func TestRouterUserAdministration(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(models.RoleAdmin, "admin@example.edu", "operator1")
	studentID := env.seedUser(models.RoleStudent, "student@example.edu", "homework1")

	admin := env.login(t, "admin@example.edu", "operator1")
	student := env.login(t, "student@example.edu", "homework1")

	rec := env.do(t, http.MethodGet, "/api/v1/users", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/users/"+studentID, student, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/api/v1/users/"+studentID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// deactivated accounts cannot log in
	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "student@example.edu", "password": "homework1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_INACTIVE", errorCode(t, rec))
}
