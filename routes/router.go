package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/audiohub/config"
	"github.com/cppla/audiohub/controllers"
	"github.com/cppla/audiohub/middleware"
	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/services"
	"github.com/cppla/audiohub/utils"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Auth  *services.AuthService
	Users *services.UserService
	Audio *services.AudioService
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, svc Services, logger *zap.Logger) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	// access log goes to its own rolling file when GIN_PATH is set
	accessLog := logger
	if cfg.GinPath != "" {
		gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			logger.Warn("gin access log disabled", zap.String("path", cfg.GinPath), zap.Error(err))
		} else {
			accessLog = gl
		}
	}
	r.Use(utils.Ginzap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, false))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		// wildcard origins cannot be combined with credentials
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(svc.Auth, svc.Users)
	userController := controllers.NewUserController(svc.Users)
	audioController := controllers.NewAudioController(svc.Audio, cfg.MaxUploadBytes())

	authRequired := middleware.AuthRequired(svc.Auth)

	authGroup := r.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	authGroup.POST("/token", authController.Login)
	authGroup.POST("/refresh", authController.Refresh)
	authGroup.POST("/logout", authRequired, authController.Logout)
	authGroup.GET("/me", authRequired, authController.Me)
	authGroup.GET("/yandex/redirect", authController.YandexRedirect)
	authGroup.GET("/yandex/callback", authController.YandexCallback)

	usersGroup := r.Group("/users")
	usersGroup.POST("/", middleware.RateLimitMiddleware(cfg.RateLimitPerMinute), middleware.OptionalAuth(svc.Auth), userController.Create)
	usersGroup.GET("/", authRequired, middleware.RequireRole(models.RoleAdmin), userController.List)
	usersGroup.GET("/:id", authRequired, userController.Get)
	usersGroup.PUT("/:id", authRequired, userController.Update)
	usersGroup.DELETE("/:id", authRequired, userController.Delete)

	audiosGroup := r.Group("/audios")
	audiosGroup.Use(authRequired)
	audiosGroup.POST("/", audioController.Upload)
	audiosGroup.GET("/", middleware.RequireRole(models.RoleAdmin), audioController.ListAll)
	// gin needs one wildcard name per segment: :id is the owner here and the file below
	audiosGroup.GET("/:id/files", audioController.ListByOwner)
	audiosGroup.DELETE("/:id", audioController.Delete)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
