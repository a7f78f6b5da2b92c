package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"unibox/backend/internal/auth"
	"unibox/backend/internal/config"
	"unibox/backend/internal/health"
	"unibox/backend/internal/middleware"
	"unibox/backend/internal/monitoring"
	"unibox/backend/internal/pool"
	"unibox/backend/internal/provider"
	"unibox/backend/internal/secret"
	"unibox/backend/internal/storage"
	"unibox/backend/internal/storage/redis"
	syncpkg "unibox/backend/internal/sync"
	"unibox/backend/internal/timeline"
	"unibox/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Store        storage.Store
	AuthService  *auth.Service
	Orchestrator *syncpkg.Orchestrator
	Sessions     *timeline.Manager
	Registry     *provider.Registry
	Cipher       *secret.Cipher
	Cache        *redis.Cache     // 可为 nil（Redis 未启用）
	Hub          *websocket.Hub   // 可为 nil
	Workers      *pool.WorkerPool // 可为 nil
	Metrics      *monitoring.Metrics
	Health       *health.HealthChecker
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	router.Use(mm.PanicRecovery())
	router.Use(mm.RequestLogger())
	router.Use(mm.HTTPMetrics())
	router.Use(mm.BusinessMetrics())
	router.Use(mm.RateLimitMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", SignatureHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"X-Max-Body-Size",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, deps.Logger)
	accountHandler := NewAccountHandler(deps.Store, deps.Cipher, deps.Logger)
	syncHandler := NewSyncHandler(deps.Orchestrator, deps.Store, deps.Hub, deps.Logger)
	webhookHandler := NewWebhookHandler(
		deps.Store, deps.Registry, deps.Sessions,
		deps.Config.Webhook.SMSASigningSecret,
		deps.Workers, deps.Hub, deps.Metrics, deps.Logger)
	timelineHandler := NewTimelineHandler(deps.Sessions, deps.Store, deps.Registry, deps.Logger)
	cacheHandler := NewCacheHandler(deps.Cache)

	jwtAuth := middleware.NewJWTAuth(deps.AuthService, deps.Logger)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", gin.WrapH(deps.Health.Handler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.POST("/logout", jwtAuth.RequireAuth(), authHandler.Logout)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
			authRoutes.POST("/password", jwtAuth.RequireAuth(), authHandler.ChangePassword)
		}

		// ========== Webhook Routes ==========
		// 服务商推送没有用户令牌，靠签名验证，限制请求体大小
		v1.POST("/webhook/:provider",
			middleware.BodySizeLimit(middleware.WebhookBodyLimit),
			webhookHandler.Handle)

		// ========== WebSocket Routes ==========
		if deps.Hub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.Hub))
		}

		// ========== 需要认证的业务路由 ==========
		authed := v1.Group("")
		authed.Use(jwtAuth.RequireAuth())
		{
			// 同步账户管理
			accountRoutes := authed.Group("/accounts")
			{
				accountRoutes.POST("", accountHandler.Create)
				accountRoutes.GET("", accountHandler.List)
				accountRoutes.GET("/:id", accountHandler.Get)
				accountRoutes.PATCH("/:id", accountHandler.Update)
				accountRoutes.DELETE("/:id", accountHandler.Delete)
			}

			// 同步触发
			authed.POST("/sync", syncHandler.Sync)

			// 时间线与会话
			authed.GET("/timeline", timelineHandler.Messages)
			authed.GET("/contacts", timelineHandler.Contacts)
			authed.DELETE("/conversations/:identifier", timelineHandler.DeleteConversation)
			authed.POST("/messages", timelineHandler.Send)

			// 通用 KV 缓存
			cacheRoutes := authed.Group("/cache")
			{
				cacheRoutes.GET("/:key", cacheHandler.Get)
				cacheRoutes.POST("/:key", cacheHandler.Set)
				cacheRoutes.DELETE("/:key", cacheHandler.Delete)
			}
		}
	}

	return router
}
