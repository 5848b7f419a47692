package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/openedu/course-enrollment-api/internal/authz"
	"github.com/openedu/course-enrollment-api/internal/middleware"
	"github.com/openedu/course-enrollment-api/internal/service"
	"github.com/openedu/course-enrollment-api/pkg/config"
	"github.com/openedu/course-enrollment-api/pkg/logger"
	corsmiddleware "github.com/openedu/course-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openedu/course-enrollment-api/pkg/middleware/requestid"
)

// Deps bundles everything the router needs.
type Deps struct {
	Config      *config.Config
	Logger      *zap.Logger
	AuthService *service.AuthService
	Metrics     *service.MetricsService

	Auth        *AuthHandler
	Courses     *CourseHandler
	Enrollments *EnrollmentHandler
	Users       *UserHandler
	Advisor     *AdvisorHandler
	Health      *HealthHandler
}

// NewRouter builds the gin engine with all routes and middleware wired.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authn := middleware.JWT(deps.AuthService)

	api := r.Group(deps.Config.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", deps.Auth.Register)
		auth.POST("/login", deps.Auth.Login)
		auth.POST("/refresh", deps.Auth.Refresh)
		auth.POST("/logout", authn, deps.Auth.Logout)
		auth.GET("/me", authn, deps.Auth.Me)
		auth.PUT("/password", authn, deps.Auth.ChangePassword)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", deps.Courses.List)
		courses.GET("/:id", deps.Courses.Get)
		courses.GET("/instructor/:instructorId", deps.Courses.ListByInstructor)
		courses.POST("", authn, middleware.Authorize(authz.OpCourseCreate), deps.Courses.Create)
		courses.PUT("/:id", authn, middleware.Authorize(authz.OpCourseUpdate), deps.Courses.Update)
		courses.DELETE("/:id", authn, middleware.Authorize(authz.OpCourseDelete), deps.Courses.Delete)
	}

	enrollments := api.Group("/enrollments", authn)
	{
		enrollments.POST("", middleware.Authorize(authz.OpEnrollmentCreate), deps.Enrollments.Enroll)
		enrollments.DELETE("/:id", middleware.Authorize(authz.OpEnrollmentDrop), deps.Enrollments.Drop)
		enrollments.GET("/student/:studentId", middleware.Authorize(authz.OpEnrollmentListByStudent), deps.Enrollments.ListByStudent)
		enrollments.GET("/course/:courseId", middleware.Authorize(authz.OpEnrollmentListByCourse), deps.Enrollments.ListByCourse)
		enrollments.GET("/course/:courseId/export", middleware.Authorize(authz.OpEnrollmentExport), deps.Enrollments.Export)
		enrollments.PUT("/:id/grade", middleware.Authorize(authz.OpGradeUpdate), deps.Enrollments.UpdateGrade)
		enrollments.PUT("/:id/attendance", middleware.Authorize(authz.OpAttendanceUpdate), deps.Enrollments.UpdateAttendance)
	}

	users := api.Group("/users", authn)
	{
		users.GET("", middleware.Authorize(authz.OpUserList), deps.Users.List)
		users.GET("/stats", middleware.Authorize(authz.OpUserStats), deps.Users.Stats)
		users.GET("/instructors", deps.Users.ListInstructors)
		users.POST("/instructors", middleware.Authorize(authz.OpInstructorCreate), deps.Users.CreateInstructor)
		users.GET("/students/enrolled/:courseId", middleware.Authorize(authz.OpEnrolledStudentsList), deps.Users.EnrolledStudents)
		users.GET("/:id", middleware.Authorize(authz.OpUserGet), deps.Users.Get)
		users.PUT("/:id", middleware.Authorize(authz.OpUserUpdate), deps.Users.Update)
		users.DELETE("/:id", middleware.Authorize(authz.OpUserDeactivate), deps.Users.Deactivate)
	}

	api.POST("/ai-helper", authn, middleware.Authorize(authz.OpAdvisorAsk), deps.Advisor.Ask)

	return r
}
