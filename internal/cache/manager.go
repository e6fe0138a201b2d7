// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/internal/tlsutil"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 缓存管理器
type Manager struct {
	redis  redis.UniversalClient
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`

	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`

	// 所有键的公共前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`

	// 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "catalogflow:",
		DefaultTTL:          5 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ConfigFrom 将应用配置中的 Redis 段转换为缓存配置，未设置的字段使用默认值
func ConfigFrom(cfg config.RedisConfig) Config {
	out := DefaultConfig()
	if cfg.Addr != "" {
		out.Addr = cfg.Addr
	}
	out.Password = cfg.Password
	out.DB = cfg.DB
	if cfg.PoolSize > 0 {
		out.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		out.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.KeyPrefix != "" {
		out.KeyPrefix = cfg.KeyPrefix
	}
	if cfg.DefaultTTL > 0 {
		out.DefaultTTL = cfg.DefaultTTL
	}
	out.TLSEnabled = cfg.TLSEnabled
	return out
}

// NewManager 创建缓存管理器并验证连接
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLSEnabled {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := NewManagerWithClient(client, config, logger)

	// 启动健康检查
	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
		zap.Bool("tls", config.TLSEnabled),
	)

	return m, nil
}

// NewManagerWithClient 使用已有客户端创建缓存管理器，不启动健康检查
func NewManagerWithClient(client redis.UniversalClient, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}
}

// Key 返回带前缀的完整键名
func (m *Manager) Key(parts ...string) string {
	key := m.config.KeyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}

	val, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		m.misses.Add(1)
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}

	m.hits.Add(1)
	return val, nil
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (m *Manager) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// GetJSON 获取 JSON 缓存值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return nil
}

// SetJSON 设置 JSON 缓存值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除缓存值
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	if len(keys) == 0 {
		return nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// DeletePrefix 删除所有以 prefix 开头的键，返回删除数量
func (m *Manager) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	var deleted int64
	iter := m.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.redis.Del(ctx, batch...).Result()
		deleted += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("cache delete failed: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("cache delete failed: %w", err)
	}

	m.logger.Debug("cache prefix invalidated", zap.String("prefix", prefix), zap.Int64("deleted", deleted))
	return deleted, nil
}

// Exists 检查键是否存在
func (m *Manager) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	count, err := m.redis.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache exists check failed: %w", err)
	}

	return count, nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.stop)
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环，Close 后退出
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("cache health check failed", zap.Error(err))
		} else {
			m.logger.Debug("cache health check passed")
		}
		cancel()
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Keys    int64   `json:"keys"`
}

// Counters 返回命中与未命中计数，不访问 Redis
func (m *Manager) Counters() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}

// GetStats 获取本管理器的命中统计与当前库的键数量
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	keys, err := m.redis.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get key count: %w", err)
	}

	stats := &Stats{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Keys:   keys,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var (
	// ErrCacheMiss 缓存未命中错误
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
