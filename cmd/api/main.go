package main

import (
	"fmt"
	"log"
	"net/http"

	_ "github.com/openedu/course-enrollment-api/api/swagger"
	"github.com/openedu/course-enrollment-api/internal/handler"
	"github.com/openedu/course-enrollment-api/internal/repository"
	"github.com/openedu/course-enrollment-api/internal/service"
	"github.com/openedu/course-enrollment-api/pkg/cache"
	"github.com/openedu/course-enrollment-api/pkg/config"
	"github.com/openedu/course-enrollment-api/pkg/database"
	"github.com/openedu/course-enrollment-api/pkg/logger"
)

// @title Course Enrollment API
// @version 1.0.0
// @description REST API for course catalog, enrollment lifecycle and account management
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := service.NewValidator()
	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewRedisCacheRepository(redisClient)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.CourseTTL, logr, cfg.Cache.Enabled && redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "course-enrollment-api",
	})
	userSvc := service.NewUserService(userRepo, courseRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, cacheSvc, cfg.Cache.CourseTTL, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, cacheSvc, metricsSvc, validate, logr)
	advisorSvc := service.NewAdvisorService(&http.Client{Timeout: cfg.Advisor.Timeout}, cfg.Advisor, validate, logr)

	r := handler.NewRouter(handler.Deps{
		Config:      cfg,
		Logger:      logr,
		AuthService: authSvc,
		Metrics:     metricsSvc,
		Auth:        handler.NewAuthHandler(authSvc, userSvc),
		Courses:     handler.NewCourseHandler(courseSvc),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		Users:       handler.NewUserHandler(userSvc),
		Advisor:     handler.NewAdvisorHandler(advisorSvc),
		Health:      handler.NewHealthHandler(db, redisClient),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
