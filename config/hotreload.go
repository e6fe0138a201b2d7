// 配置热重载管理器实现。
//
// 监听配置文件，重新加载并校验后原子替换当前配置，
// 记录变更与历史快照，失败时保留旧配置。
package config

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// --- 热重载类型定义 ---

// ReloadCallback 配置成功应用后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigChange 代表一次字段变更
type ConfigChange struct {
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
	Source          string    `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
}

// ConfigSnapshot 配置快照
type ConfigSnapshot struct {
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Config    *Config   `json:"-"`
}

// hotReloadablePrefixes 无需重启即可生效的字段前缀
var hotReloadablePrefixes = []string{
	"Sources",
	"Federation.Strategy",
	"Federation.MaxStartIndex",
	"Federation.CancelOnTimeout",
	"Federation.DefaultTimeout",
	"Federation.AvailabilityTimeout",
	"Federation.LocalSourceID",
	"Log.Level",
}

// sensitiveFields 日志与 API 中需要脱敏的字段
var sensitiveFields = map[string]bool{
	"Server.APIKeys":    true,
	"Server.JWT.Secret": true,
	"Redis.Password":    true,
	"Database.Password": true,
}

// IsHotReloadable 判断字段路径是否可以热重载
func IsHotReloadable(path string) bool {
	for _, p := range hotReloadablePrefixes {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

// IsSensitive 判断字段路径的取值是否需要脱敏。数据源列表整体比较，
// 其中包含凭据，因此也视为敏感。
func IsSensitive(path string) bool {
	return sensitiveFields[path] || path == "Sources"
}

// --- 热重载管理器 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) { m.logger = logger }
}

// WithMaxHistorySize 设置历史快照最大数量
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.maxHistory = size
		}
	}
}

// WithReloadWatcherOptions 设置内部文件监听器选项
func WithReloadWatcherOptions(opts ...WatcherOption) HotReloadOption {
	return func(m *HotReloadManager) { m.watcherOpts = append(m.watcherOpts, opts...) }
}

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	loader  *Loader
	config  *Config
	history []ConfigSnapshot
	changes []ConfigChange

	maxHistory  int
	callbacks   []ReloadCallback
	watcher     *FileWatcher
	watcherOpts []WatcherOption

	logger *zap.Logger
}

// NewHotReloadManager 创建热重载管理器，initial 为当前生效的配置
func NewHotReloadManager(loader *Loader, initial *Config, opts ...HotReloadOption) *HotReloadManager {
	if initial == nil {
		initial = DefaultConfig()
	}
	m := &HotReloadManager{
		loader:     loader,
		config:     initial.Clone(),
		maxHistory: 10,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	m.pushHistory(m.config, "initial")
	return m
}

// Current 返回当前配置的副本
func (m *HotReloadManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// OnReload 注册配置重新加载的回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Start 开始监听配置文件，未配置文件路径时不做任何事
func (m *HotReloadManager) Start(ctx context.Context) error {
	path := m.loader.ConfigPath()
	if path == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return fmt.Errorf("hot reload already started")
	}

	opts := append([]WatcherOption{WithWatcherLogger(m.logger)}, m.watcherOpts...)
	w, err := NewFileWatcher([]string{path}, opts...)
	if err != nil {
		return err
	}
	w.OnChange(func(event FileEvent) {
		if event.Op == FileOpRemove {
			m.logger.Warn("config file removed, keeping current config", zap.String("path", event.Path))
			return
		}
		if _, err := m.Reload("file"); err != nil {
			m.logger.Error("config reload failed", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	m.watcher = w
	return nil
}

// Stop 停止监听
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// Reload 从加载器重新读取配置并应用
func (m *HotReloadManager) Reload(source string) ([]ConfigChange, error) {
	cfg, err := m.loader.Load()
	if err != nil {
		return nil, err
	}
	return m.Apply(cfg, source)
}

// Apply 校验并应用新配置。校验失败时保留当前配置。
// 回调在锁外按注册顺序执行，回调 panic 会被记录但不会回滚。
func (m *HotReloadManager) Apply(newConfig *Config, source string) ([]ConfigChange, error) {
	if newConfig == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := newConfig.Validate(); err != nil {
		m.logger.Warn("rejected invalid config", zap.String("source", source), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("config unchanged", zap.String("source", source))
		return nil, nil
	}

	now := time.Now()
	requiresRestart := false
	for i := range changes {
		changes[i].Source = source
		changes[i].Timestamp = now
		changes[i].RequiresRestart = !IsHotReloadable(changes[i].Path)
		requiresRestart = requiresRestart || changes[i].RequiresRestart
		m.logChange(changes[i])
	}

	m.config = newConfig.Clone()
	m.pushHistory(m.config, source)
	m.changes = append(m.changes, changes...)
	if len(m.changes) > 1000 {
		m.changes = m.changes[len(m.changes)-1000:]
	}
	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	applied := m.config.Clone()
	m.mu.Unlock()

	for _, cb := range callbacks {
		m.notify(cb, oldConfig, applied)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return changes, nil
}

func (m *HotReloadManager) notify(cb ReloadCallback, oldConfig, newConfig *Config) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reload callback panicked", zap.Any("panic", r))
		}
	}()
	cb(oldConfig, newConfig)
}

// History 返回历史快照（从旧到新）
func (m *HotReloadManager) History() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConfigSnapshot(nil), m.history...)
}

// Changes 返回最近的变更记录
func (m *HotReloadManager) Changes() []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConfigChange(nil), m.changes...)
}

// Version 返回当前配置版本号
func (m *HotReloadManager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return 0
	}
	return m.history[len(m.history)-1].Version
}

func (m *HotReloadManager) pushHistory(cfg *Config, source string) {
	version := 1
	if n := len(m.history); n > 0 {
		version = m.history[n-1].Version + 1
	}
	m.history = append(m.history, ConfigSnapshot{
		Version:   version,
		Checksum:  Checksum(cfg),
		Source:    source,
		Timestamp: time.Now(),
		Config:    cfg.Clone(),
	})
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if !IsSensitive(change.Path) {
		fields = append(fields, zap.Any("old_value", change.OldValue), zap.Any("new_value", change.NewValue))
	}
	m.logger.Info("configuration changed", fields...)
}

// --- 辅助函数 ---

// detectChanges 递归比较结构体字段，切片整体比较
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct && oldField.Type() != reflect.TypeOf(time.Time{}) {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

// Clone 返回配置的深拷贝
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Server.CORSAllowedOrigins = slices.Clone(c.Server.CORSAllowedOrigins)
	out.Server.APIKeys = slices.Clone(c.Server.APIKeys)
	out.Log.OutputPaths = slices.Clone(c.Log.OutputPaths)
	out.Sources = slices.Clone(c.Sources)
	return &out
}

// Checksum 返回配置内容的 FNV-64a 校验和
func Checksum(c *Config) string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Redacted 返回隐藏敏感字段后的配置副本，用于日志与 API 输出
func (c *Config) Redacted() *Config {
	out := c.Clone()
	const mask = "[REDACTED]"
	for i := range out.Server.APIKeys {
		out.Server.APIKeys[i] = mask
	}
	if out.Server.JWT.Secret != "" {
		out.Server.JWT.Secret = mask
	}
	if out.Redis.Password != "" {
		out.Redis.Password = mask
	}
	if out.Database.Password != "" {
		out.Database.Password = mask
	}
	for i := range out.Sources {
		if out.Sources[i].APIKey != "" {
			out.Sources[i].APIKey = mask
		}
		if out.Sources[i].URI != "" {
			out.Sources[i].URI = mask
		}
	}
	return out
}
