package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/catalogflow/catalog"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// readyTimeout 就绪检查的整体超时
const readyTimeout = 5 * time.Second

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger,
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（简单健康检查，远程数据源以此探测可用性）
// @Summary 健康检查
// @Description 简单的健康检查端点
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 或 /readyz 请求，并发执行全部已注册检查
// @Summary 准备情况检查
// @Description 检查服务是否准备好接受流量
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务已准备就绪"
// @Failure 503 {object} ServiceHealthResponse "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			results[i] = CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	status := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = "unhealthy"
		}
	}

	if status.Status != "healthy" {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// FuncHealthCheck 以函数实现的健康检查，适用于数据库、Redis 的 Ping
type FuncHealthCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncHealthCheck 创建函数健康检查
func NewFuncHealthCheck(name string, fn func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, fn: fn}
}

func (c *FuncHealthCheck) Name() string { return c.name }

func (c *FuncHealthCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewDatabaseHealthCheck 创建数据库健康检查
func NewDatabaseHealthCheck(name string, ping func(ctx context.Context) error) *FuncHealthCheck {
	return NewFuncHealthCheck(name, ping)
}

// NewRedisHealthCheck 创建 Redis 健康检查
func NewRedisHealthCheck(name string, ping func(ctx context.Context) error) *FuncHealthCheck {
	return NewFuncHealthCheck(name, ping)
}

// SourceLookup 按 id 查找数据源
type SourceLookup func(id string) (catalog.Source, bool)

// SourceHealthCheck 检查指定数据源（通常是本地数据源）是否可用
type SourceHealthCheck struct {
	id     string
	lookup SourceLookup
}

// NewSourceHealthCheck 创建数据源健康检查。每次检查都重新查找数据源，
// 以便热重载替换数据源后仍然生效。
func NewSourceHealthCheck(id string, lookup SourceLookup) *SourceHealthCheck {
	return &SourceHealthCheck{id: id, lookup: lookup}
}

func (c *SourceHealthCheck) Name() string { return "source:" + c.id }

func (c *SourceHealthCheck) Check(ctx context.Context) error {
	src, ok := c.lookup(c.id)
	if !ok {
		return fmt.Errorf("source %s is not registered", c.id)
	}
	if checker, ok := src.(catalog.AvailabilityChecker); ok && !checker.IsAvailable(ctx) {
		return fmt.Errorf("source %s is unavailable", c.id)
	}
	return nil
}
