package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shopfloor/pkg/api/middleware"
	"shopfloor/pkg/auth"
	"shopfloor/pkg/coordination"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/storage"
)

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	jobs        storage.JobStore
	schedules   storage.ScheduleStore
	notifier    storage.Notifier
	coordinator coordination.Coordinator
}

// Config holds API server configuration.
type Config struct {
	Port        string
	JWTService  *auth.JWTService
	JobStore    storage.JobStore
	Schedules   storage.ScheduleStore
	Notifier    storage.Notifier
	Coordinator coordination.Coordinator
	ServiceName string
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20)) // 1MB body limit
	if cfg.ServiceName != "" {
		router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	}
	router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
		JWTService: cfg.JWTService,
		SkipPaths:  []string{"/health", "/metrics"},
	}))

	s := &Server{
		router:      router,
		jobs:        cfg.JobStore,
		schedules:   cfg.Schedules,
		notifier:    cfg.Notifier,
		coordinator: cfg.Coordinator,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the gin engine, used by tests to drive requests directly.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)

	// Prometheus metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", middleware.RequireRole(auth.RoleDispatcher), s.createJob)
			jobs.GET("", s.listJobs)
			jobs.GET("/:id", s.getJob)
		}

		schedules := v1.Group("/schedules")
		{
			schedules.POST("", middleware.RequireRole(auth.RoleDispatcher), s.createScheduleRun)
			schedules.GET("", s.listScheduleRuns)
			schedules.GET("/:id", s.getScheduleRun)
			schedules.GET("/:id/items", s.listScheduleItems)
		}

		v1.GET("/workers", s.listWorkers)
	}
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// healthCheck returns server health status with dependency checks.
func (s *Server) healthCheck(c *gin.Context) {
	deps := make(map[string]bool)
	deps["postgres"] = s.jobs != nil
	deps["redis"] = s.notifier != nil
	deps["etcd"] = s.coordinator != nil

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
