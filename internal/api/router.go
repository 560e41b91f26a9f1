package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/api/handlers"
	"github.com/mxverify/mxverify/internal/api/middleware"
	"github.com/mxverify/mxverify/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	Handler *handlers.Handler
	Logger  *zap.Logger
}

func NewServer(cfg *config.Config, handler *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		Handler: handler,
		Logger:  logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := s.Handler

	// Health and metrics
	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := s.Router.Group("/api/v1")
	if !s.Config.Auth.Disabled {
		api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret))
	}

	// Verification routes
	{
		api.POST("/verify-single", h.VerifySingle)
		api.POST("/verify-bulk", h.VerifyBulk)
		api.POST("/csv/verify", h.VerifyCSV)
		api.GET("/verification/:id/status", h.GetStatus)
		api.GET("/verification/:id/results", h.GetResults)
	}

	// Domain routes
	{
		api.GET("/domains/:domain/info", h.GetDomainInfo)
	}
}
