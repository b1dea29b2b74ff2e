package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/edustack/campus-api/api/swagger"
	"github.com/edustack/campus-api/internal/handler"
	"github.com/edustack/campus-api/internal/middleware"
	"github.com/edustack/campus-api/internal/models"
	"github.com/edustack/campus-api/internal/repository"
	"github.com/edustack/campus-api/internal/service"
	"github.com/edustack/campus-api/pkg/cache"
	"github.com/edustack/campus-api/pkg/config"
	"github.com/edustack/campus-api/pkg/database"
	"github.com/edustack/campus-api/pkg/logger"
	corsmiddleware "github.com/edustack/campus-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edustack/campus-api/pkg/middleware/requestid"
	"github.com/edustack/campus-api/pkg/storage"
)

// @title Campus API
// @version 1.0.0
// @description Academic workflow API: enrollment admission, payment gate, assignments and grading
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

	fileStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	offeringRepo := repository.NewOfferingRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "campus-api",
	})
	metricsService := service.NewMetricsService()
	paymentService := service.NewPaymentService(paymentRepo, userRepo, validate, logr)
	offeringService := service.NewOfferingService(offeringRepo, validate, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, offeringRepo, userRepo, paymentService, userRepo, validate, logr)
	assignmentService := service.NewAssignmentService(assignmentRepo, offeringRepo, validate, logr)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, enrollmentRepo, validate, logr)

	var gradingService *service.GradingService
	if cfg.Stats.CacheEnabled {
		gradingService = service.NewGradingService(submissionRepo, assignmentRepo, offeringRepo, cacheRepo, userRepo, cfg.Stats.CacheTTL, validate, logr)
	} else {
		gradingService = service.NewGradingService(submissionRepo, assignmentRepo, offeringRepo, nil, userRepo, cfg.Stats.CacheTTL, validate, logr)
	}
	exportService := service.NewExportService(submissionRepo, offeringRepo, fileStore, signer, service.ExportConfig{APIPrefix: cfg.APIPrefix}, logr, nil, nil)

	authHandler := handler.NewAuthHandler(authService)
	offeringHandler := handler.NewOfferingHandler(offeringService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService, metricsService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService, gradingService)
	submissionHandler := handler.NewSubmissionHandler(submissionService, gradingService)
	uploadHandler := handler.NewUploadHandler(fileStore, signer, handler.UploadConfig{
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
	})
	exportHandler := handler.NewExportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := string(models.RoleAdmin)
	instructor := string(models.RoleInstructor)
	student := string(models.RoleStudent)

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
			auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
			auth.GET("/me", middleware.JWT(authService), authHandler.Me)
		}

		offerings := api.Group("/offerings", middleware.JWT(authService))
		{
			offerings.GET("", offeringHandler.List)
			offerings.GET("/:id", offeringHandler.Get)
			offerings.POST("", middleware.RBAC(admin), offeringHandler.Create)
			offerings.PUT("/:id", middleware.RBAC(admin), offeringHandler.Update)
			offerings.GET("/:id/stats", middleware.RBAC(admin, instructor), offeringHandler.Stats)
			offerings.GET("/:id/aggregate", middleware.RBAC(admin, instructor), submissionHandler.OfferingAggregate)
			if cfg.Exports.Enabled {
				offerings.POST("/:id/grade-report", middleware.RBAC(admin, instructor), middleware.Audit(userRepo, models.AuditActionReportExported, "grade_report"), exportHandler.GenerateGradeReport)
			}
		}

		enrollments := api.Group("/enrollments", middleware.JWT(authService))
		{
			enrollments.GET("", enrollmentHandler.List)
			enrollments.GET("/:id", enrollmentHandler.Get)
			enrollments.POST("", middleware.RBAC(admin, student), enrollmentHandler.Request)
			enrollments.POST("/:id/proof", middleware.RBAC(admin, student), enrollmentHandler.AttachProof)
			enrollments.POST("/:id/decision", middleware.RBAC(admin), enrollmentHandler.Decide)
			enrollments.POST("/:id/complete", middleware.RBAC(admin), enrollmentHandler.Complete)
			enrollments.POST("/:id/revoke", middleware.RBAC(admin), enrollmentHandler.Revoke)
			enrollments.POST("/:id/payment/clear", middleware.RBAC(admin), paymentHandler.Clear)
			enrollments.POST("/:id/payment/reject", middleware.RBAC(admin), paymentHandler.Reject)
		}

		assignments := api.Group("/assignments", middleware.JWT(authService))
		{
			assignments.GET("", assignmentHandler.List)
			assignments.GET("/:id", assignmentHandler.Get)
			assignments.POST("", middleware.RBAC(admin, instructor), assignmentHandler.Create)
			assignments.PUT("/:id", middleware.RBAC(admin, instructor), assignmentHandler.Update)
			assignments.GET("/:id/aggregate", middleware.RBAC(admin, instructor), assignmentHandler.Aggregate)
		}

		submissions := api.Group("/submissions", middleware.JWT(authService))
		{
			submissions.GET("", submissionHandler.List)
			submissions.GET("/:id", submissionHandler.Get)
			submissions.POST("", middleware.RBAC(student), submissionHandler.Submit)
			submissions.POST("/:id/grade", middleware.RBAC(admin, instructor), submissionHandler.Grade)
		}

		api.POST("/uploads", middleware.JWT(authService), uploadHandler.Upload)
		api.GET("/uploads/:token", uploadHandler.Download)
		api.GET("/exports/:token", exportHandler.Download)
		api.GET("/system/metrics", middleware.JWT(authService), middleware.RBAC(admin), metricsHandler.Snapshot)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
