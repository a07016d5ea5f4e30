package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/api/handlers"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/internal/server"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 imageflow 的主服务器
type Server struct {
	cfg    *config.Config
	app    *App
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	generateHandler *handlers.GenerateHandler
	workflowHandler *handlers.WorkflowHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, app *App, collector *metrics.Collector, logger *zap.Logger) *Server {
	return &Server{
		cfg:              cfg,
		app:              app,
		metricsCollector: collector,
		logger:           logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("providers", s.app.Providers),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	// 只有 ComfyUI 一个后端时，模板与 ComfyUI 连通性都是必需的；否则 ComfyUI 离线只算降级
	comfyOnly := len(s.app.Providers) == 1
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewWorkflowStoreCheck(s.app.Catalog.Store(), comfyOnly))
	if comfyOnly {
		s.healthHandler.RegisterCheck(handlers.NewComfyUIHealthCheck(s.app.ComfyUI.Client()))
	} else {
		s.healthHandler.RegisterOptionalCheck(handlers.NewComfyUIHealthCheck(s.app.ComfyUI.Client()))
	}

	s.generateHandler = handlers.NewGenerateHandler(s.app.Orchestrator, s.logger)
	s.workflowHandler = handlers.NewWorkflowHandler(s.app.Catalog, s.app.ComfyUI, s.logger)
	if s.metricsCollector != nil {
		s.workflowHandler.WithRecorder(s.metricsCollector)
	}
	s.logger.Info("Handlers initialized")
}

// routes 注册全部 HTTP 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleLive)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleLive)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	// 图像生成
	mux.HandleFunc("POST /api/v1/images/generations", s.generateHandler.HandleGenerate)
	mux.HandleFunc("GET /api/v1/providers", s.generateHandler.HandleProviders)

	// 工作流模板
	mux.HandleFunc("GET /api/v1/workflows", s.workflowHandler.HandleList)
	mux.HandleFunc("POST /api/v1/workflows/import", s.workflowHandler.HandleImport)
	mux.HandleFunc("GET /api/v1/workflows/{name}", s.workflowHandler.HandleView)
	mux.HandleFunc("POST /api/v1/workflows/{name}/modify", s.workflowHandler.HandleModify)
	mux.HandleFunc("POST /api/v1/workflows/{name}/resize", s.workflowHandler.HandleResize)
	mux.HandleFunc("DELETE /api/v1/workflows/{name}", s.workflowHandler.HandleDelete)
	mux.HandleFunc("GET /api/v1/checkpoints", s.workflowHandler.HandleCheckpoints)

	return mux
}

// handler 构建带中间件链的根 handler
func (s *Server) handler(ctx context.Context) http.Handler {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
	}
	if s.metricsCollector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	return Chain(s.routes(), middlewares...)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager("api", s.handler(rateLimiterCtx), serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	server.WaitForShutdown(ctx, s.logger, s.httpManager, s.metricsManager)
	s.Shutdown()
}

// Shutdown 释放剩余资源。服务器已由 WaitForShutdown 关闭时重复关闭无副作用。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	ctx := context.Background()
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown error", zap.String("server", m.Name()), zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
