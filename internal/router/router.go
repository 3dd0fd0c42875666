package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/handler"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Staff   *handler.StaffHandler
	Monitor *handler.MonitorHandler
	Webhook *handler.WebhookHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// Deps are the services the middleware chain needs.
type Deps struct {
	Auth         *service.AuthService
	Devices      *service.DeviceService
	StartLimiter *middleware.RateLimiter
	Log          zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode != gin.ReleaseMode {
		router.Use(gin.Logger())
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization", "X-Request-ID",
		"Sec-CH-UA", "Sec-CH-UA-Platform", "Sec-CH-UA-Mobile",
	}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Webhooks (HMAC signed) ─────────────────────────────────────
	webhooks := router.Group("/api/v1/webhooks")
	webhooks.Use(middleware.RequireWebhookSignature(cfg.WebhookSecret))
	{
		webhooks.POST("/proctoring", handlers.Webhook.Proctoring)
	}

	// ─── 2. Student Group (JWT + Device) ───────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(deps.Auth),
		middleware.ResolveDevice(deps.Devices, deps.Log),
		middleware.NoStore(),
	)
	{
		start := []gin.HandlerFunc{handlers.Attempt.StartExam}
		if deps.StartLimiter != nil {
			start = append([]gin.HandlerFunc{deps.StartLimiter.Middleware()}, start...)
		}
		studentAPI.POST("/exams/:exam_id/start", start...)

		attempts := studentAPI.Group("/attempts/:attempt_id")
		{
			attempts.GET("/state", handlers.Attempt.GetState)
			attempts.GET("/time-remaining", handlers.Attempt.TimeRemaining)
			attempts.POST("/heartbeat", handlers.Attempt.Heartbeat)
			attempts.GET("/responses", handlers.Attempt.ListResponses)
			attempts.PUT("/responses/:question_id/draft", handlers.Attempt.SaveDraft)
			attempts.PUT("/responses/:question_id/final", handlers.Attempt.FinalizeAnswer)
			attempts.POST("/events", handlers.Attempt.RecordEvent)
			attempts.POST("/submit", handlers.Attempt.Submit)
			attempts.GET("/result", handlers.Attempt.GetResult)
		}
	}

	// ─── 3. WebSocket Group (Student) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentJWT(deps.Auth),
		middleware.ResolveDevice(deps.Devices, deps.Log),
	)
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Staff Group (JWT + Permission) ─────────────────────────────
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(middleware.RequireStaffJWT(deps.Auth))
	{
		monitoring := staffAPI.Group("/monitoring/events")
		{
			monitoring.GET("", middleware.RequirePermission(model.PermissionMonitoringRead), handlers.Staff.ListEvents)
			monitoring.GET("/:id", middleware.RequirePermission(model.PermissionMonitoringRead), handlers.Staff.GetEvent)
			monitoring.POST("/:id/assign", middleware.RequirePermission(model.PermissionMonitoringReview), handlers.Staff.AssignEvent)
			monitoring.POST("/:id/review", middleware.RequirePermission(model.PermissionMonitoringReview), handlers.Staff.ReviewEvent)
		}

		attempts := staffAPI.Group("/attempts/:attempt_id")
		{
			attempts.POST("/terminate", middleware.RequirePermission(model.PermissionAttemptsTerminate), handlers.Staff.TerminateAttempt)
			attempts.POST("/flag", middleware.RequirePermission(model.PermissionAttemptsFlag), handlers.Staff.FlagAttempt)
			attempts.PUT("/responses/:question_id/points", middleware.RequirePermission(model.PermissionAttemptsGrade), handlers.Staff.GradeResponse)
		}

		exams := staffAPI.Group("/exams/:exam_id")
		{
			exams.GET("/concurrency-report",
				middleware.RequireAnyPermission(model.PermissionReportsRead, model.PermissionMonitoringRead),
				handlers.Staff.ConcurrencyReport)
			exams.GET("/monitor", middleware.RequirePermission(model.PermissionMonitoringRead), handlers.Monitor.MonitorExamSSE)
		}
	}

	return router
}
