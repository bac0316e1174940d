package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/gamehost-service/internal/config"
	"github.com/wenwu/saas-platform/gamehost-service/internal/repository"
	"github.com/wenwu/saas-platform/gamehost-service/internal/service"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	admin   *AdminHandler
	cfg     *config.Config
}

// Per-user request budget for the general API.
var userRateLimiter = NewRateLimiter(30, time.Minute)

// Provisioning is the expensive path; a tenant gets a handful of creations
// per hour, enough for retries after capacity errors.
var createRateLimiter = NewRateLimiter(5, time.Hour)

func NewServer(cfg *config.Config, serverService *service.ServerService, logRepo *repository.LogRepository) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: NewHandler(serverService),
		admin:   NewAdminHandler(serverService, logRepo),
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "gamehost-service",
		})
	})

	// Internal API - called by subscription-service
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.POST("/provision", s.handler.Provision)
		internal.POST("/deprovision", s.handler.Deprovision)
		internal.GET("/servers/:id", s.handler.GetServerStatus)
	}

	// Internal Admin API - capacity and audit queries
	internalAdmin := s.router.Group("/api/internal/admin")
	internalAdmin.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internalAdmin.GET("/ports/utilization", s.admin.PortUtilization)
		internalAdmin.GET("/regions/capacity", s.admin.RegionCapacity)
		internalAdmin.GET("/servers/:id/logs", s.admin.ServerLogs)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/my/servers", s.handler.GetMyServers)
		user.POST("/my/servers", RateLimitMiddleware(createRateLimiter), s.handler.CreateMyServer)
		user.GET("/my/servers/:id", s.handler.GetMyServer)
		user.DELETE("/my/servers/:id", s.handler.DeleteMyServer)

		user.GET("/regions", s.handler.GetRegions)
	}

	// Public API - no authentication required
	public := s.router.Group("/api/v1/public")
	{
		public.GET("/regions", s.handler.GetRegions)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
