package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Manager HTTP 服务器管理器
type Manager struct {
	name     string
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config 服务器配置
type Config struct {
	// 服务名，用于日志区分 api 与 metrics
	Name string `yaml:"name" json:"name"`

	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// 最大并发连接数，0 表示不限制
	MaxConns int `yaml:"max_conns" json:"max_conns"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom 从应用服务器配置生成指定端口的服务器配置
func ConfigFrom(name string, cfg config.ServerConfig, port int) Config {
	c := DefaultConfig()
	c.Name = name
	c.Addr = fmt.Sprintf(":%d", port)
	if cfg.ReadTimeout > 0 {
		c.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.IdleTimeout > 0 {
		c.IdleTimeout = cfg.IdleTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		c.ShutdownTimeout = cfg.ShutdownTimeout
	}
	c.MaxConns = cfg.MaxConns
	return c
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config.Name = "http"
	}
	server := &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(logger.Named("net_http")),
	}

	return &Manager{
		name:   config.Name,
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", config.Name)),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// listen 创建监听器，MaxConns > 0 时限制并发连接数
func (m *Manager) listen() (net.Listener, error) {
	if m.closed {
		return nil, fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return nil, fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	if m.config.MaxConns > 0 {
		listener = netutil.LimitListener(listener, m.config.MaxConns)
	}
	m.listener = listener
	return listener, nil
}

// Start 启动服务器（非阻塞）
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listener, err := m.listen()
	if err != nil {
		return err
	}

	m.logger.Info("starting HTTP server",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_conns", m.config.MaxConns),
	)

	go m.serve(func() error { return m.server.Serve(listener) })

	return nil
}

// StartTLS 启动 HTTPS 服务器（非阻塞），使用加固的 TLS 配置
func (m *Manager) StartTLS(certFile, keyFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listener, err := m.listen()
	if err != nil {
		return err
	}
	m.server.TLSConfig = tlsutil.DefaultTLSConfig()

	m.logger.Info("starting HTTPS server",
		zap.String("addr", listener.Addr().String()),
		zap.String("cert", certFile),
	)

	go m.serve(func() error { return m.server.ServeTLS(listener, certFile, keyFile) })

	return nil
}

func (m *Manager) serve(run func() error) {
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("HTTP server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭服务器
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	m.listener = nil

	m.logger.Info("HTTP server stopped")
	return nil
}

// WaitForShutdown 等待关闭信号或服务异常，然后优雅关闭
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.errCh:
		if err != nil {
			m.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors returns asynchronous server errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Name 返回服务名
func (m *Manager) Name() string {
	return m.name
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 检查服务器是否运行中
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
