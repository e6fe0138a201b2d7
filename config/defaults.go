// =============================================================================
// 📦 CatalogFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Federation: DefaultFederationConfig(),
		Sources:    DefaultSources(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConns:        1000,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultFederationConfig 返回默认联邦查询配置
func DefaultFederationConfig() FederationConfig {
	return FederationConfig{
		Strategy:            "sorted",
		MaxStartIndex:       50000,
		CancelOnTimeout:     true,
		Workers:             64,
		QueueSize:           1024,
		DefaultTimeout:      30 * time.Second,
		AvailabilityTimeout: 2 * time.Second,
		LocalSourceID:       "local",
	}
}

// DefaultSources 返回默认数据源列表：一个本地内存数据源
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{ID: "local", Kind: SourceKindMemory, Title: "Local catalog"},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "catalogflow:",
		DefaultTTL:   5 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "catalogflow",
		Password:        "",
		Name:            "catalogflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "catalogflow",
		SampleRate:   0.1,
	}
}
