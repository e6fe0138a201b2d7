// =============================================================================
// 📦 CatalogFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CATALOGFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CatalogFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" json:"server" env:"SERVER"`

	// Federation 联邦查询配置
	Federation FederationConfig `yaml:"federation" json:"federation" env:"FEDERATION"`

	// Sources 数据源列表（仅支持 YAML 配置）
	Sources []SourceConfig `yaml:"sources" json:"sources" env:"-"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" json:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" json:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数，0 表示不限制
	MaxConns int `yaml:"max_conns" json:"max_conns" env:"MAX_CONNS"`
	// 每个 IP 每秒请求数
	RateLimitRPS int `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// API Key 列表，为空时不启用认证
	APIKeys []string `yaml:"api_keys" json:"-" env:"API_KEYS"`
	// 是否允许通过查询参数传递 API Key（WebSocket 客户端需要）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" json:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT 认证配置
	JWT JWTConfig `yaml:"jwt" json:"jwt" env:"JWT"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// HMAC 密钥，为空时不启用 JWT
	Secret string `yaml:"secret" json:"-" env:"SECRET"`
	// 签发者
	Issuer string `yaml:"issuer" json:"issuer" env:"ISSUER"`
	// 受众
	Audience string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// FederationConfig 联邦查询配置
type FederationConfig struct {
	// 合并策略: sorted, fifo
	Strategy string `yaml:"strategy" json:"strategy" env:"STRATEGY"`
	// 起始索引上限
	MaxStartIndex int `yaml:"max_start_index" json:"max_start_index" env:"MAX_START_INDEX"`
	// 超时后是否取消仍在执行的数据源查询
	CancelOnTimeout bool `yaml:"cancel_on_timeout" json:"cancel_on_timeout" env:"CANCEL_ON_TIMEOUT"`
	// 共享工作池的 worker 数量
	Workers int `yaml:"workers" json:"workers" env:"WORKERS"`
	// 工作池队列长度
	QueueSize int `yaml:"queue_size" json:"queue_size" env:"QUEUE_SIZE"`
	// 请求未指定超时时使用的默认超时
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 可用性检查超时
	AvailabilityTimeout time.Duration `yaml:"availability_timeout" json:"availability_timeout" env:"AVAILABILITY_TIMEOUT"`
	// 本地数据源 ID，非企业查询且未指定数据源时使用
	LocalSourceID string `yaml:"local_source_id" json:"local_source_id" env:"LOCAL_SOURCE_ID"`
}

// 数据源类型
const (
	SourceKindMemory = "memory"
	SourceKindSQL    = "sql"
	SourceKindMongo  = "mongo"
	SourceKindRemote = "remote"
)

// SourceConfig 单个数据源配置
type SourceConfig struct {
	// 数据源 ID
	ID string `yaml:"id" json:"id"`
	// 类型: memory, sql, mongo, remote
	Kind string `yaml:"kind" json:"kind"`
	// 标题
	Title string `yaml:"title" json:"title,omitempty"`
	// 远程节点地址（remote）
	URL string `yaml:"url" json:"url,omitempty"`
	// 远程节点 API Key（remote）
	APIKey string `yaml:"api_key" json:"-"`
	// 远程节点私有 CA 证书（remote）
	CAFile string `yaml:"ca_file" json:"ca_file,omitempty"`
	// MongoDB 连接串（mongo）
	URI string `yaml:"uri" json:"-"`
	// MongoDB 数据库名（mongo）
	Database string `yaml:"database" json:"database,omitempty"`
	// MongoDB 集合名（mongo）
	Collection string `yaml:"collection" json:"collection,omitempty"`
	// 单次请求超时（remote）
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// 模拟延迟（memory）
	Latency time.Duration `yaml:"latency" json:"latency,omitempty"`
	// 启动时自动建表（sql）
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate,omitempty"`
	// 结果缓存
	Cache SourceCacheConfig `yaml:"cache" json:"cache"`
}

// SourceCacheConfig 数据源结果缓存配置
type SourceCacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled"`
	// 过期时间，0 表示使用 Redis 默认值
	TTL time.Duration `yaml:"ttl" json:"ttl,omitempty"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" json:"-" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`
	// 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" json:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" json:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" json:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" json:"-" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" json:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CATALOGFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载并验证配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().
		WithConfigPath(path).
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MaxConns < 0 {
		errs = append(errs, "max_conns must not be negative")
	}

	// 验证联邦配置
	switch c.Federation.Strategy {
	case "sorted", "fifo":
	default:
		errs = append(errs, fmt.Sprintf("unknown federation strategy %q", c.Federation.Strategy))
	}
	if c.Federation.Workers < 0 || c.Federation.QueueSize < 0 {
		errs = append(errs, "federation workers and queue_size must not be negative")
	}

	// 验证数据源
	errs = append(errs, c.validateSources()...)

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSources() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("sources[%d]: id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("sources[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true

		switch s.Kind {
		case SourceKindMemory, SourceKindSQL:
		case SourceKindMongo:
			if s.URI == "" {
				errs = append(errs, fmt.Sprintf("source %q: uri is required", s.ID))
			}
		case SourceKindRemote:
			if s.URL == "" {
				errs = append(errs, fmt.Sprintf("source %q: url is required", s.ID))
			}
		default:
			errs = append(errs, fmt.Sprintf("source %q: unknown kind %q", s.ID, s.Kind))
		}
	}
	if id := c.Federation.LocalSourceID; id != "" && len(c.Sources) > 0 && !seen[id] {
		errs = append(errs, fmt.Sprintf("local_source_id %q is not a configured source", id))
	}
	return errs
}

// Source 按 ID 查找数据源配置
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
