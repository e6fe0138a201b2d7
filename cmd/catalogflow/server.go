package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/api/handlers"
	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/framework"
	"github.com/BaSui01/catalogflow/internal/cache"
	"github.com/BaSui01/catalogflow/internal/database"
	"github.com/BaSui01/catalogflow/internal/metrics"
	"github.com/BaSui01/catalogflow/internal/pool"
	"github.com/BaSui01/catalogflow/internal/server"
	"github.com/BaSui01/catalogflow/internal/telemetry"
	"github.com/BaSui01/catalogflow/source"
)

// metricsNamespace Prometheus 指标命名空间
const metricsNamespace = "catalogflow"

// skipAuthPaths 不需要认证的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 CatalogFlow 的主服务器
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger

	// 可选依赖
	level     *zap.AtomicLevel
	otel      *telemetry.Providers
	promReg   *prometheus.Registry
	gatherer  prometheus.Gatherer
	reloadOff bool

	// 基础设施
	pool  *pool.GoroutinePool
	db    *database.PoolManager
	cache *cache.Manager

	// 联邦目录
	registry  *framework.Registry
	framework *framework.Framework

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	catalogHandler *handlers.CatalogHandler
	streamHandler  *handlers.StreamHandler
	configHandler  *handlers.ConfigHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	reloadMu         sync.Mutex

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	shutdownOnce sync.Once
}

// ServerOption 服务器可选项
type ServerOption func(*Server)

// WithLogLevel 设置可热更新的日志级别
func WithLogLevel(level zap.AtomicLevel) ServerOption {
	return func(s *Server) { s.level = &level }
}

// WithTelemetry 设置 OpenTelemetry providers，关闭时一并释放
func WithTelemetry(p *telemetry.Providers) ServerOption {
	return func(s *Server) { s.otel = p }
}

// WithMetricsRegistry 使用独立的 Prometheus registry（测试中避免重复注册）
func WithMetricsRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) { s.promReg = reg }
}

// WithoutHotReload 不监听配置文件变更，配置 API 的手动重载仍然可用
func WithoutHotReload() ServerOption {
	return func(s *Server) { s.reloadOff = true }
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = config.NewLoader()
	}
	s := &Server{
		cfg:    cfg,
		loader: loader,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	ctx := context.Background()

	// 1. 初始化基础设施与联邦目录
	if err := s.setup(ctx); err != nil {
		s.Shutdown()
		return err
	}

	// 2. 启动配置文件监听
	if !s.reloadOff {
		if err := s.hotReloadManager.Start(ctx); err != nil {
			s.Shutdown()
			return fmt.Errorf("failed to start hot reload manager: %w", err)
		}
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("sources", s.registry.IDs()),
		zap.Bool("hot_reload_enabled", !s.reloadOff && s.loader.ConfigPath() != ""),
	)
	return nil
}

// setup 初始化除监听端口外的全部组件
func (s *Server) setup(ctx context.Context) error {
	s.initMetrics()

	if err := s.initInfrastructure(); err != nil {
		return fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := s.initFramework(ctx); err != nil {
		return fmt.Errorf("failed to init framework: %w", err)
	}
	s.initHotReloadManager()
	s.initHandlers()
	s.registerRuntimeMetrics()
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initMetrics 初始化指标收集器
func (s *Server) initMetrics() {
	if s.promReg != nil {
		s.metricsCollector = metrics.NewCollectorWithRegisterer(s.promReg, metricsNamespace, s.logger)
		s.gatherer = s.promReg
		return
	}
	s.metricsCollector = metrics.NewCollector(metricsNamespace, s.logger)
	s.gatherer = prometheus.DefaultGatherer
}

// initInfrastructure 创建工作池，按数据源需要连接数据库与 Redis
func (s *Server) initInfrastructure() error {
	poolCfg := pool.DefaultGoroutinePoolConfig()
	if s.cfg.Federation.Workers > 0 {
		poolCfg.MaxWorkers = s.cfg.Federation.Workers
	}
	if s.cfg.Federation.QueueSize > 0 {
		poolCfg.QueueSize = s.cfg.Federation.QueueSize
	}
	poolCfg.PanicHandler = func(r any) {
		s.logger.Error("federation worker panic", zap.Any("panic", r))
	}
	s.pool = pool.NewGoroutinePool(poolCfg)

	if source.NeedsDatabase(s.cfg.Sources) {
		db, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		s.db = db
	}

	if source.NeedsCache(s.cfg.Sources) {
		c, err := cache.NewManager(cache.ConfigFrom(s.cfg.Redis), s.logger)
		if err != nil {
			return err
		}
		s.cache = c
	}
	return nil
}

// sourceDeps 返回构建数据源所需的共享依赖
func (s *Server) sourceDeps() source.Deps {
	return source.Deps{
		Logger: s.logger,
		DB:     s.db,
		Cache:  s.cache,
	}
}

// initFramework 构建数据源并创建联邦查询框架
func (s *Server) initFramework(ctx context.Context) error {
	srcs, err := source.BuildAll(ctx, s.cfg.Sources, s.sourceDeps())
	if err != nil {
		return err
	}

	s.registry = framework.NewRegistry(s.logger)
	if _, err := s.registry.Replace(srcs); err != nil {
		_ = source.Close(ctx, srcs...)
		return err
	}

	otelObserver, err := telemetry.NewFederationObserver(nil)
	if err != nil {
		s.logger.Warn("federation OTel metrics disabled", zap.Error(err))
	}
	var observer federation.Observer = s.metricsCollector
	if otelObserver != nil {
		observer = federation.Observers(s.metricsCollector, otelObserver)
	}

	fw, err := framework.New(s.registry, framework.ConfigFrom(s.cfg.Federation), federation.Options{
		Pool:     s.pool,
		Logger:   s.logger,
		Observer: observer,
	}, framework.WithIngestRecorder(s.metricsCollector.RecordIngest))
	if err != nil {
		return err
	}
	s.framework = fw

	s.logger.Info("Catalog framework initialized",
		zap.String("strategy", fw.StrategyName()),
		zap.Strings("sources", s.registry.IDs()),
		zap.String("local_source", s.cfg.Federation.LocalSourceID),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.db.Ping))
	}
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", s.cache.Ping))
	}
	if id := s.cfg.Federation.LocalSourceID; id != "" {
		s.healthHandler.RegisterCheck(handlers.NewSourceHealthCheck(id, s.registry.Get))
	}

	s.catalogHandler = handlers.NewCatalogHandler(s.framework, s.logger)

	streamCfg := handlers.DefaultStreamConfig()
	streamCfg.OriginPatterns = s.cfg.Server.CORSAllowedOrigins
	s.streamHandler = handlers.NewStreamHandler(s.framework, streamCfg, s.logger)

	s.configHandler = handlers.NewConfigHandler(s.hotReloadManager, s.logger)

	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() {
	s.hotReloadManager = config.NewHotReloadManager(s.loader, s.cfg,
		config.WithHotReloadLogger(s.logger),
	)
	s.hotReloadManager.OnReload(s.applyReload)
}

// registerRuntimeMetrics 注册工作池、数据库与缓存的运行时指标
func (s *Server) registerRuntimeMetrics() {
	var errs []error
	observe := func(name, help string, fn func() float64) {
		errs = append(errs, s.metricsCollector.ObserveGauge(name, help, nil, fn))
	}

	p := s.pool
	observe("pool_workers", "Number of federation pool workers", func() float64 { return float64(p.Stats().Workers) })
	observe("pool_active", "Number of federation tasks running", func() float64 { return float64(p.Stats().Active) })
	observe("pool_queued", "Number of federation tasks queued", func() float64 { return float64(p.Stats().Queued) })
	errs = append(errs, s.metricsCollector.ObserveCounter("pool_rejected_total", "Federation tasks rejected by the pool", nil,
		func() float64 { return float64(p.Stats().Rejected) }))

	observe("sources_registered", "Number of registered catalog sources", func() float64 { return float64(s.registry.Len()) })
	observe("response_buffer_hit_ratio", "Share of API responses encoded into a reused buffer",
		func() float64 { return pool.ByteBufferPool.Stats().HitRate() })

	if db := s.db; db != nil {
		observe("db_open_connections", "Open database connections", func() float64 { return float64(db.GetStats().OpenConnections) })
		observe("db_in_use_connections", "Database connections in use", func() float64 { return float64(db.GetStats().InUse) })
	}
	if c := s.cache; c != nil {
		errs = append(errs,
			s.metricsCollector.ObserveCounter("cache_hits_total", "Query cache hits", nil, func() float64 {
				hits, _ := c.Counters()
				return float64(hits)
			}),
			s.metricsCollector.ObserveCounter("cache_misses_total", "Query cache misses", nil, func() float64 {
				_, misses := c.Counters()
				return float64(misses)
			}),
		)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("failed to register runtime metrics", zap.Error(err))
	}
}

// =============================================================================
// 🔄 配置热更新
// =============================================================================

// applyReload 将新配置应用到数据源集合、联邦策略和日志级别
func (s *Server) applyReload(oldConfig, newConfig *config.Config) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ctx := context.Background()

	if !reflect.DeepEqual(oldConfig.Sources, newConfig.Sources) {
		if err := s.reloadSources(ctx, oldConfig.Sources, newConfig.Sources); err != nil {
			s.logger.Error("source reload failed, keeping previous sources", zap.Error(err))
		}
	}

	if err := s.framework.Reconfigure(framework.ConfigFrom(newConfig.Federation)); err != nil {
		s.logger.Error("federation reconfigure failed", zap.Error(err))
	}

	if s.level != nil && oldConfig.Log.Level != newConfig.Log.Level {
		s.level.SetLevel(parseLevel(newConfig.Log.Level))
		s.logger.Info("log level updated", zap.String("level", newConfig.Log.Level))
	}

	s.cfg = newConfig
	s.logger.Info("Configuration reloaded")
}

// reloadSources 重建发生变化的数据源，未变化的数据源保留原实例
func (s *Server) reloadSources(ctx context.Context, oldCfgs, newCfgs []config.SourceConfig) error {
	previous := make(map[string]config.SourceConfig, len(oldCfgs))
	for _, c := range oldCfgs {
		previous[c.ID] = c
	}

	var (
		next  = make([]catalog.Source, 0, len(newCfgs))
		built []catalog.Source
	)
	for _, c := range newCfgs {
		if old, ok := previous[c.ID]; ok && reflect.DeepEqual(old, c) {
			if src, ok := s.registry.Get(c.ID); ok {
				next = append(next, src)
				continue
			}
		}
		src, err := source.Build(c, s.sourceDeps())
		if err != nil {
			_ = source.Close(ctx, built...)
			return err
		}
		built = append(built, src)
		next = append(next, src)
	}

	removed, err := s.registry.Replace(next)
	if err != nil {
		_ = source.Close(ctx, built...)
		return err
	}
	if err := source.Close(ctx, removed...); err != nil {
		s.logger.Warn("failed to release replaced sources", zap.Error(err))
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 查询
	mux.HandleFunc("POST /api/v1/query", s.catalogHandler.HandleQuery)
	mux.HandleFunc("POST /api/v1/query/local", s.catalogHandler.HandleLocalQuery)
	mux.HandleFunc("GET /api/v1/query/stream", s.streamHandler.HandleStream)

	// 数据源
	mux.HandleFunc("GET /api/v1/sources", s.catalogHandler.HandleListSources)
	mux.HandleFunc("GET /api/v1/sources/{id}", s.catalogHandler.HandleGetSource)

	// 本地目录写入
	mux.HandleFunc("POST /api/v1/metacards", s.catalogHandler.HandleIngest)
	mux.HandleFunc("POST /api/v1/metacards/delete", s.catalogHandler.HandleDelete)

	// 配置管理
	mux.HandleFunc("GET /api/v1/config", s.configHandler.HandleGetConfig)
	mux.HandleFunc("POST /api/v1/config/reload", s.configHandler.HandleReload)
	mux.HandleFunc("GET /api/v1/config/changes", s.configHandler.HandleChanges)

	return mux
}

// buildHandler 组装路由与中间件链
func (s *Server) buildHandler() http.Handler {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}

	// 启用 JWT 时按租户限流，否则按 IP 限流
	rps, burst := float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst
	if s.cfg.Server.JWT.Secret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
		if rps > 0 {
			middlewares = append(middlewares, TenantRateLimiter(rateLimiterCtx, rps, burst, s.logger))
		}
	} else if rps > 0 {
		middlewares = append(middlewares, RateLimiter(rateLimiterCtx, rps, burst, s.logger))
	}

	return Chain(s.routes(), middlewares...)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	s.httpManager = server.NewManager(s.buildHandler(),
		server.ConfigFrom("http", s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.metricsManager = server.NewManager(mux,
		server.ConfigFrom("metrics", s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器，等待进行中的查询结束
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 释放数据源与工作池
	if s.registry != nil {
		if err := source.Close(ctx, s.registry.List()...); err != nil {
			s.logger.Error("Source shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}

	// 5. 关闭缓存与数据库
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database shutdown error", zap.Error(err))
		}
	}

	// 6. 刷新遥测数据
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
