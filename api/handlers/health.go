package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds one readiness pass; all checks run concurrently
// under it.
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器。
// 必需检查失败时服务不可用 (503)；可选检查失败只降级 (200, "degraded")，
// 例如还有远程后端可用时 ComfyUI 离线。
type HealthHandler struct {
	logger    *zap.Logger
	version   string
	startedAt time.Time

	mu     sync.RWMutex
	checks []registeredCheck
}

// HealthCheck 就绪依赖
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type registeredCheck struct {
	HealthCheck
	required bool
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status    string `json:"status"` // "pass", "fail"
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:    logger.With(zap.String("handler", "health")),
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterCheck 注册必需检查，失败时 /ready 返回 503
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, true)
}

// RegisterOptionalCheck 注册可选检查，失败时 /ready 仍返回 200 并标记 degraded
func (h *HealthHandler) RegisterOptionalCheck(check HealthCheck) {
	h.register(check, false)
}

func (h *HealthHandler) register(check HealthCheck, required bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{HealthCheck: check, required: required})
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleLive 处理 /health 与 /healthz 请求（存活检查，不触达后端）
// @Summary 存活检查
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务处于活动状态"
// @Router /health [get]
// @Router /healthz [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

// HandleReady 处理 /ready 或 /readyz 请求（就绪检查）
// @Summary 准备情况检查
// @Description 并发执行全部检查：模板库、必要时的 ComfyUI 连通性
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务已准备就绪或已降级"
// @Failure 503 {object} ServiceHealthResponse "必需依赖不可用"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := h.evaluate(ctx)
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) evaluate(ctx context.Context) ServiceHealthResponse {
	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			results[i] = CheckResult{Status: "pass", Required: check.required, LatencyMS: latency.Milliseconds()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Bool("required", check.required),
					zap.Duration("latency", latency),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	status := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		res := results[i]
		status.Checks[check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if res.Required {
			status.Status = "unhealthy"
		} else if status.Status == "healthy" {
			status.Status = "degraded"
		}
	}
	return status
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// WorkflowLister 可列出模板名称的模板库
type WorkflowLister interface {
	List(ctx context.Context) ([]string, error)
}

// WorkflowStoreCheck 模板库检查：目录必须可读；
// requireTemplates 时还要求至少存有一个模板，ComfyUI 是唯一后端时没有模板就无法生成。
type WorkflowStoreCheck struct {
	store            WorkflowLister
	requireTemplates bool
}

// NewWorkflowStoreCheck 创建模板库检查
func NewWorkflowStoreCheck(store WorkflowLister, requireTemplates bool) *WorkflowStoreCheck {
	return &WorkflowStoreCheck{store: store, requireTemplates: requireTemplates}
}

func (c *WorkflowStoreCheck) Name() string { return "workflows" }

func (c *WorkflowStoreCheck) Check(ctx context.Context) error {
	names, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("workflow store unreadable: %w", err)
	}
	if c.requireTemplates && len(names) == 0 {
		return errors.New("no workflow templates stored, import one with `imageflow workflow import`")
	}
	return nil
}

// Pinger 可探活的后端
type Pinger interface {
	Ping(ctx context.Context) error
}

// ComfyUIHealthCheck ComfyUI 连通性检查
type ComfyUIHealthCheck struct {
	client Pinger
}

// NewComfyUIHealthCheck 创建 ComfyUI 健康检查
func NewComfyUIHealthCheck(client Pinger) *ComfyUIHealthCheck {
	return &ComfyUIHealthCheck{client: client}
}

func (c *ComfyUIHealthCheck) Name() string { return "comfyui" }

func (c *ComfyUIHealthCheck) Check(ctx context.Context) error {
	return c.client.Ping(ctx)
}
