package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropwin/backend/internal/config"
	"dropwin/backend/internal/health"
	"dropwin/backend/internal/middleware"
	"dropwin/backend/internal/monitoring"
	"dropwin/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Store     *service.MailboxStore
	Generator *service.AddressGenerator
	Engine    *service.SyncEngine
	Provider  Provider
	Health    *health.HealthChecker // 可选
	Metrics   *monitoring.Metrics   // 可选
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.RecoveryHandler(logger, deps.Metrics))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	apiHandler := NewAPIHandler(deps.Store, deps.Generator, deps.Provider, logger)
	mailboxHandler := NewMailboxHandler(deps.Store, deps.Engine, deps.Provider, logger)

	// ========== 运维接口 ==========
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		results := deps.Health.CheckHealth()
		status := http.StatusOK
		if results["storage"] != "OK" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, results)
	})
	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// ========== /api（旧格式，前端使用） ==========
	apiRoutes := router.Group("/api")
	{
		apiRoutes.GET("/generate-email", apiHandler.GenerateEmail)
		apiRoutes.GET("/get-messages", apiHandler.GetMessages)
		apiRoutes.GET("/read-message", apiHandler.ReadMessage)
		apiRoutes.GET("/get-domains", apiHandler.GetDomains)
		apiRoutes.GET("/test", apiHandler.Test)
	}

	// ========== V1 API ==========
	v1 := router.Group("/v1")
	{
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.GET("", mailboxHandler.ListMailboxes)
			mailboxRoutes.POST("", mailboxHandler.CreateMailbox)
			mailboxRoutes.DELETE("/:address", mailboxHandler.DeleteMailbox)
			mailboxRoutes.POST("/:address/select", mailboxHandler.SelectMailbox)
			mailboxRoutes.GET("/:address/messages/:id", mailboxHandler.GetMessage)
		}

		syncRoutes := v1.Group("/sync")
		{
			syncRoutes.GET("", mailboxHandler.GetSync)
			syncRoutes.POST("/deselect", mailboxHandler.Deselect)
			syncRoutes.POST("/refresh", mailboxHandler.Refresh)
		}
	}

	// 前端静态文件
	if dir := deps.Config.Server.StaticDir; dir != "" {
		fileServer := http.FileServer(http.Dir(dir))
		router.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				NotFound(c, "资源不存在")
				return
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
		})
	}

	return router
}
